// Package repository records migration runs and the contracts they deployed.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a migration run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the migration runner against a chain.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	ChainID       uint64     `json:"chain_id"`
	Network       string     `json:"network"`
	Deployer      string     `json:"deployer"`
	LastCompleted uint64     `json:"last_completed"`
	Status        RunStatus  `json:"status"`
	Error         *string    `json:"error,omitempty"`
	DryRun        bool       `json:"dry_run"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Deployment is a contract deployed by a run.
type Deployment struct {
	ID          uuid.UUID       `json:"id"`
	RunID       uuid.UUID       `json:"run_id"`
	ChainID     uint64          `json:"chain_id"`
	Migration   uint64          `json:"migration"`
	Contract    string          `json:"contract"`
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	GasUsed     uint64          `json:"gas_used"`
	Args        json.RawMessage `json:"args"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Repository defines the interface for deployment record operations.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	// Run operations
	CreateRun(ctx context.Context, r *Run) error
	FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, lastCompleted uint64, errMsg string) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, chainID uint64, limit int) ([]*Run, error)

	// Deployment operations
	RecordDeployment(ctx context.Context, d *Deployment) error
	ListDeployments(ctx context.Context, chainID uint64) ([]*Deployment, error)
	LatestDeployment(ctx context.Context, chainID uint64, contract string) (*Deployment, error)
}
