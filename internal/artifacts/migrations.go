package artifacts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MigrationsContract is the name of the bookkeeping contract that records
// the last completed migration on chain.
const MigrationsContract = "Migrations"

// MigrationsABI is the interface of the standard Migrations contract.
const MigrationsABI = `[
	{"inputs": [], "stateMutability": "nonpayable", "type": "constructor"},
	{"inputs": [], "name": "owner", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "last_completed_migration", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [{"name": "completed", "type": "uint256"}], "name": "setCompleted", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

// ParseMigrationsABI returns the parsed Migrations interface.
func ParseMigrationsABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(MigrationsABI))
}
