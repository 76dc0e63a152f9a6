// Package artifacts loads compiled contract artifacts (ABI and bytecode) and
// records deployed addresses back into them.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sentinel errors
var (
	ErrNotFound      = errors.New("artifacts: contract artifact not found")
	ErrEmptyBytecode = errors.New("artifacts: empty bytecode")
)

// Bytecode accepts both the Truffle form ("0x...") and the Foundry/Hardhat
// form ({"object": "0x..."}).
type Bytecode struct {
	Object string `json:"object"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Object)
	}
	type plain Bytecode
	return json.Unmarshal(data, (*plain)(b))
}

// MarshalJSON writes the Truffle string form.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Object)
}

// NetworkEntry is where a contract lives on one chain.
type NetworkEntry struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// ContractArtifact is a compiled Solidity contract.
type ContractArtifact struct {
	ContractName string                  `json:"contractName"`
	ABI          json.RawMessage         `json:"abi"`
	Bytecode     Bytecode                `json:"bytecode"`
	Networks     map[string]NetworkEntry `json:"networks,omitempty"`

	parsed abi.ABI
	code   []byte
}

// Parse decodes the ABI and bytecode. It is called by the Store on load.
func (a *ContractArtifact) Parse() error {
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return fmt.Errorf("parse %s ABI: %w", a.ContractName, err)
	}
	a.parsed = parsed

	obj := strings.TrimSpace(a.Bytecode.Object)
	if obj == "" || obj == "0x" {
		return fmt.Errorf("%w: %s", ErrEmptyBytecode, a.ContractName)
	}
	if !strings.HasPrefix(obj, "0x") {
		obj = "0x" + obj
	}
	code, err := hexutil.Decode(obj)
	if err != nil {
		return fmt.Errorf("decode %s bytecode: %w", a.ContractName, err)
	}
	a.code = code
	return nil
}

// ABIDef returns the parsed ABI.
func (a *ContractArtifact) ABIDef() abi.ABI { return a.parsed }

// Code returns the creation bytecode.
func (a *ContractArtifact) Code() []byte { return a.code }

// AddressOn returns the address recorded for chainID, if any.
func (a *ContractArtifact) AddressOn(chainID uint64) (common.Address, bool) {
	entry, ok := a.Networks[strconv.FormatUint(chainID, 10)]
	if !ok || !common.IsHexAddress(entry.Address) {
		return common.Address{}, false
	}
	return common.HexToAddress(entry.Address), true
}

// Store loads artifacts from a build directory such as Truffle's build/contracts.
type Store struct {
	dir string

	mu     sync.Mutex
	loaded map[string]*ContractArtifact
}

// NewStore returns a Store reading from dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		loaded: make(map[string]*ContractArtifact),
	}
}

// Dir returns the build directory.
func (s *Store) Dir() string { return s.dir }

// Load returns the artifact for the named contract.
func (s *Store) Load(name string) (*ContractArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.loaded[name]; ok {
		return a, nil
	}

	a, err := s.read(name)
	if err != nil {
		return nil, err
	}
	s.loaded[name] = a
	return a, nil
}

// LoadAll loads every named artifact and reports all missing ones at once.
func (s *Store) LoadAll(names []string) (map[string]*ContractArtifact, error) {
	out := make(map[string]*ContractArtifact, len(names))
	var missing []string
	for _, name := range names {
		a, err := s.Load(name)
		if errors.Is(err, ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out[name] = a
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w in %s: %v", ErrNotFound, s.dir, missing)
	}
	return out, nil
}

// RecordNetwork stores address and txHash under chainID in the artifact file.
// The file is replaced atomically and unknown fields are preserved.
func (s *Store) RecordNetwork(name string, chainID uint64, address common.Address, txHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	networks := make(map[string]NetworkEntry)
	if raw, ok := doc["networks"]; ok {
		if err := json.Unmarshal(raw, &networks); err != nil {
			return fmt.Errorf("parse %s networks: %w", path, err)
		}
	}
	entry := NetworkEntry{
		Address:         address.Hex(),
		TransactionHash: txHash.Hex(),
	}
	networks[strconv.FormatUint(chainID, 10)] = entry

	encoded, err := json.Marshal(networks)
	if err != nil {
		return fmt.Errorf("encode networks: %w", err)
	}
	doc["networks"] = encoded

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := writeFileAtomic(path, out); err != nil {
		return err
	}

	if a, ok := s.loaded[name]; ok {
		if a.Networks == nil {
			a.Networks = make(map[string]NetworkEntry)
		}
		a.Networks[strconv.FormatUint(chainID, 10)] = entry
	}
	return nil
}

func (s *Store) read(name string) (*ContractArtifact, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var a ContractArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if a.ContractName == "" {
		a.ContractName = name
	}
	if err := a.Parse(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
