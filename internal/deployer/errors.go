package deployer

import "errors"

// Sentinel errors
var (
	ErrArgCount        = errors.New("deployer: constructor argument count mismatch")
	ErrBadArgument     = errors.New("deployer: invalid constructor argument")
	ErrReverted        = errors.New("deployer: transaction reverted")
	ErrNoCode          = errors.New("deployer: no code at deployed address")
	ErrChainIDMismatch = errors.New("deployer: chain ID mismatch")
	ErrMissingKey      = errors.New("deployer: private key or keystore is required")
)
