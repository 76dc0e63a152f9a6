// Package deployer sends contract-creation transactions and waits for them
// to be mined.
package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"

	"github.com/Bidon15/nitro-migrate/internal/artifacts"
	"github.com/Bidon15/nitro-migrate/internal/plan"
)

// Default transaction parameters
const (
	DefaultGasPriceBoostPercent  = 50
	DefaultMinGasPriceGwei       = 2
	DefaultGasLimitBufferPercent = 20
	DefaultFallbackGasLimit      = 6_000_000
	DefaultCallGasLimit          = 200_000
)

// Backend is the subset of ethclient.Client the deployer needs.
type Backend interface {
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config tunes gas pricing and pacing.
type Config struct {
	GasPriceBoostPercent int64
	// MinGasPrice floors the gas price. Nil means no floor.
	MinGasPrice           *big.Int
	GasLimitBufferPercent uint64
	// FallbackGasLimit replaces a failed creation estimate. Zero makes the
	// estimate error fatal.
	FallbackGasLimit uint64

	// TxPerSecond caps how fast transactions are sent. Zero means unlimited.
	TxPerSecond float64

	// ConfirmTimeout bounds each wait for a receipt. Zero means no bound.
	ConfirmTimeout time.Duration
}

// DefaultConfig returns the default gas settings with no pacing and no
// confirmation bound.
func DefaultConfig() Config {
	return Config{
		GasPriceBoostPercent:  DefaultGasPriceBoostPercent,
		MinGasPrice:           new(big.Int).Mul(big.NewInt(DefaultMinGasPriceGwei), big.NewInt(1_000_000_000)),
		GasLimitBufferPercent: DefaultGasLimitBufferPercent,
		FallbackGasLimit:      DefaultFallbackGasLimit,
	}
}

// Request describes one contract to deploy.
type Request struct {
	// Name is how the deployment is reported, e.g. "NitroCollection[tier-1]".
	Name     string
	Artifact *artifacts.ContractArtifact
	Args     []plan.Literal
}

// Pending is a submitted, not yet mined, deployment.
type Pending struct {
	Name     string
	Contract string
	Tx       *types.Transaction
	Address  common.Address
}

// Result is a mined deployment.
type Result struct {
	Name        string         `json:"name"`
	Contract    string         `json:"contract"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	GasUsed     uint64         `json:"gas_used"`
}

// Deployer sends deployments from a single account.
type Deployer struct {
	backend Backend
	signer  Signer
	config  Config
	logger  *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	nextNonce *uint64
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a deployer. The config is used as given; start from
// DefaultConfig to get the default gas settings.
func New(backend Backend, signer Signer, config Config, opts ...Option) *Deployer {
	d := &Deployer{
		backend: backend,
		signer:  signer,
		config:  config,
		logger:  slog.Default(),
	}
	if config.TxPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(config.TxPerSecond), 1)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Address returns the deploying account.
func (d *Deployer) Address() common.Address {
	return d.signer.Address()
}

// CheckChain verifies the backend is connected to the expected chain.
func (d *Deployer) CheckChain(ctx context.Context, expected uint64) error {
	chainID, err := d.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain ID: %w", err)
	}
	if !chainID.IsUint64() || chainID.Uint64() != expected {
		return fmt.Errorf("%w: expected %d, got %s", ErrChainIDMismatch, expected, chainID)
	}
	return nil
}

// Deploy submits a deployment and waits for it to be mined.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	pending, err := d.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.Wait(ctx, pending)
}

// Submit signs and sends a contract-creation transaction without waiting.
func (d *Deployer) Submit(ctx context.Context, req Request) (*Pending, error) {
	name := req.Name
	if name == "" {
		name = req.Artifact.ContractName
	}

	packed, err := PackConstructor(req.Artifact.ABIDef(), req.Args)
	if err != nil {
		return nil, fmt.Errorf("pack %s constructor: %w", name, err)
	}
	data := make([]byte, 0, len(req.Artifact.Code())+len(packed))
	data = append(data, req.Artifact.Code()...)
	data = append(data, packed...)

	tx, err := d.send(ctx, nil, data, name)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}

	addr := crypto.CreateAddress(d.signer.Address(), tx.Nonce())
	d.logger.Info("deployment submitted",
		slog.String("contract", name),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("address", addr.Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)

	return &Pending{
		Name:     name,
		Contract: req.Artifact.ContractName,
		Tx:       tx,
		Address:  addr,
	}, nil
}

// Wait blocks until the pending deployment is mined and verifies that code
// exists at the new address.
func (d *Deployer) Wait(ctx context.Context, p *Pending) (*Result, error) {
	receipt, err := d.waitMined(ctx, p.Tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", p.Name, err)
	}

	if receipt.ContractAddress != (common.Address{}) {
		p.Address = receipt.ContractAddress
	}

	code, err := d.backend.CodeAt(ctx, p.Address, nil)
	if err != nil {
		return nil, fmt.Errorf("get %s code: %w", p.Name, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoCode, p.Name, p.Address.Hex())
	}

	result := &Result{
		Name:        p.Name,
		Contract:    p.Contract,
		Address:     p.Address,
		TxHash:      p.Tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}

	d.logger.Info("contract deployed",
		slog.String("contract", p.Name),
		slog.String("address", result.Address.Hex()),
		slog.Uint64("block_number", result.BlockNumber),
		slog.Uint64("gas_used", result.GasUsed),
	)
	return result, nil
}

// Transact sends a call transaction to an existing contract and waits for it.
func (d *Deployer) Transact(ctx context.Context, to common.Address, data []byte, label string) (*types.Receipt, error) {
	tx, err := d.send(ctx, &to, data, label)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	d.logger.Info("transaction submitted",
		slog.String("call", label),
		slog.String("to", to.Hex()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)

	receipt, err := d.waitMined(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return receipt, nil
}

// Call performs a read-only contract call against the latest block.
func (d *Deployer) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return d.backend.CallContract(ctx, ethereum.CallMsg{
		From: d.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
}

// ResetNonce forces the next transaction to re-read the pending nonce.
func (d *Deployer) ResetNonce() {
	d.mu.Lock()
	d.nextNonce = nil
	d.mu.Unlock()
}

// send builds, signs and sends a legacy transaction. A nil to creates a contract.
func (d *Deployer) send(ctx context.Context, to *common.Address, data []byte, label string) (*types.Transaction, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	gasPrice, err := d.gasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	gasLimit, err := d.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     d.signer.Address(),
		To:       to,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		gasLimit = d.config.FallbackGasLimit
		if to != nil {
			gasLimit = DefaultCallGasLimit
		}
		if gasLimit == 0 {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		d.logger.Warn("gas estimation failed, using default",
			slog.String("call", label),
			slog.Uint64("gas_limit", gasLimit),
			slog.String("error", err.Error()),
		)
	}
	gasLimit = gasLimit * (100 + d.config.GasLimitBufferPercent) / 100

	// The nonce is reserved last so a failure above does not leave a gap.
	d.mu.Lock()
	defer d.mu.Unlock()

	nonce, err := d.reserveNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	var tx *types.Transaction
	if to == nil {
		tx = types.NewContractCreation(nonce, big.NewInt(0), gasLimit, gasPrice, data)
	} else {
		tx = types.NewTransaction(nonce, *to, big.NewInt(0), gasLimit, gasPrice, data)
	}

	signed, err := d.signer.SignTransaction(ctx, tx)
	if err != nil {
		d.nextNonce = nil
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := d.backend.SendTransaction(ctx, signed); err != nil {
		d.nextNonce = nil
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	next := nonce + 1
	d.nextNonce = &next
	return signed, nil
}

// reserveNonce must be called with d.mu held.
func (d *Deployer) reserveNonce(ctx context.Context) (uint64, error) {
	if d.nextNonce != nil {
		return *d.nextNonce, nil
	}
	return d.backend.PendingNonceAt(ctx, d.signer.Address())
}

// gasPrice returns the suggested price boosted by GasPriceBoostPercent and
// never below MinGasPrice when one is set.
func (d *Deployer) gasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	boosted := new(big.Int).Mul(suggested, big.NewInt(100+d.config.GasPriceBoostPercent))
	boosted.Div(boosted, big.NewInt(100))

	if d.config.MinGasPrice != nil && boosted.Cmp(d.config.MinGasPrice) < 0 {
		boosted = new(big.Int).Set(d.config.MinGasPrice)
	}
	return boosted, nil
}

func (d *Deployer) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if d.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(ctx, d.backend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s in block %d", ErrReverted, tx.Hash().Hex(), receipt.BlockNumber.Uint64())
	}
	return receipt, nil
}
