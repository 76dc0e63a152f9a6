// Package deployertest provides an in-memory chain for exercising the
// deployer and runner without a node.
package deployertest

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bidon15/nitro-migrate/internal/artifacts"
)

// RuntimeCode is the code the fake chain installs for every created contract.
var RuntimeCode = []byte{0x60, 0x00, 0x60, 0x00, 0xf3}

// Backend is a fake chain that mines every transaction immediately.
//
// It understands the Migrations contract: setCompleted updates the stored
// value and last_completed_migration reads it back.
type Backend struct {
	mu sync.Mutex

	chainID  *big.Int
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	code     map[common.Address][]byte
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	block    uint64

	completed map[common.Address]uint64

	// GasPrice is returned by SuggestGasPrice.
	GasPrice *big.Int
	// EstimateErr, when set, makes EstimateGas fail.
	EstimateErr error
	// SendErr, when set, makes SendTransaction fail.
	SendErr error
	// Revert decides whether a transaction fails on chain.
	Revert func(tx *types.Transaction) bool
	// NoCode leaves created contracts without code.
	NoCode bool
}

// NewBackend returns an empty chain with the given ID.
func NewBackend(chainID int64) *Backend {
	return &Backend{
		chainID:   big.NewInt(chainID),
		balances:  make(map[common.Address]*big.Int),
		nonces:    make(map[common.Address]uint64),
		code:      make(map[common.Address][]byte),
		receipts:  make(map[common.Hash]*types.Receipt),
		completed: make(map[common.Address]uint64),
		GasPrice:  big.NewInt(1_000_000_000),
	}
}

// Fund sets an account balance.
func (b *Backend) Fund(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(wei)
}

// Sent returns every transaction accepted so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// SetNonce sets the next nonce for addr, as if other transactions had been
// sent from it.
func (b *Backend) SetNonce(addr common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[addr] = nonce
}

// Completed returns the last completed migration stored at addr.
func (b *Backend) Completed(addr common.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed[addr]
}

// SetCompleted seeds the Migrations state at addr and installs code there.
func (b *Backend) SetCompleted(addr common.Address, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed[addr] = n
	b.code[addr] = RuntimeCode
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return 100_000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if b.SendErr != nil {
		return b.SendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if tx.Nonce() != b.nonces[from] {
		return errors.New("nonce too low or too high")
	}
	b.nonces[from]++
	b.block++
	b.sent = append(b.sent, tx)

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
		GasUsed:     21_000 + uint64(len(tx.Data()))*16,
	}
	if b.Revert != nil && b.Revert(tx) {
		receipt.Status = types.ReceiptStatusFailed
		b.receipts[tx.Hash()] = receipt
		return nil
	}

	if tx.To() == nil {
		addr := crypto.CreateAddress(from, tx.Nonce())
		receipt.ContractAddress = addr
		if !b.NoCode {
			b.code[addr] = RuntimeCode
		}
	} else if selector(tx.Data(), "setCompleted") {
		b.completed[*tx.To()] = new(big.Int).SetBytes(tx.Data()[4:]).Uint64()
	}

	b.receipts[tx.Hash()] = receipt
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code[account], nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.To == nil || len(b.code[*msg.To]) == 0 {
		return nil, nil
	}
	if selector(msg.Data, "last_completed_migration") {
		return common.LeftPadBytes(new(big.Int).SetUint64(b.completed[*msg.To]).Bytes(), 32), nil
	}
	return nil, errors.New("execution reverted")
}

func selector(data []byte, method string) bool {
	parsed, err := artifacts.ParseMigrationsABI()
	if err != nil {
		return false
	}
	m, ok := parsed.Methods[method]
	return ok && len(data) >= 4 && bytes.Equal(data[:4], m.ID)
}
