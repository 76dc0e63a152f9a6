package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Repository backed by PostgreSQL.
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

// CreateRun inserts a new run record.
func (r *postgresRepo) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	query := `
		INSERT INTO migration_runs (id, chain_id, network, deployer, last_completed, status, dry_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING started_at`

	return r.pool.QueryRow(ctx, query,
		run.ID,
		int64(run.ChainID),
		run.Network,
		run.Deployer,
		int64(run.LastCompleted),
		string(run.Status),
		run.DryRun,
	).Scan(&run.StartedAt)
}

// FinishRun sets the final status of a run.
func (r *postgresRepo) FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, lastCompleted uint64, errMsg string) error {
	query := `
		UPDATE migration_runs
		SET status = $2,
		    last_completed = $3,
		    error_message = NULLIF($4, ''),
		    finished_at = $5
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, string(status), int64(lastCompleted), errMsg, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *postgresRepo) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, chain_id, network, deployer, last_completed, status, error_message,
		       dry_run, started_at, finished_at
		FROM migration_runs
		WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the newest runs first. A zero chainID matches every chain.
func (r *postgresRepo) ListRuns(ctx context.Context, chainID uint64, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, chain_id, network, deployer, last_completed, status, error_message,
		       dry_run, started_at, finished_at
		FROM migration_runs
		WHERE $1::BIGINT = 0 OR chain_id = $1::BIGINT
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, int64(chainID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordDeployment inserts a deployed contract.
func (r *postgresRepo) RecordDeployment(ctx context.Context, d *Deployment) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	args := d.Args
	if len(args) == 0 {
		args = []byte("[]")
	}

	query := `
		INSERT INTO contract_deployments (
			id, run_id, chain_id, migration, contract, name, address,
			tx_hash, block_number, gas_used, args
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		d.ID,
		d.RunID,
		int64(d.ChainID),
		int64(d.Migration),
		d.Contract,
		d.Name,
		d.Address,
		d.TxHash,
		int64(d.BlockNumber),
		int64(d.GasUsed),
		args,
	).Scan(&d.CreatedAt)
}

// ListDeployments returns deployments in the order they were recorded.
func (r *postgresRepo) ListDeployments(ctx context.Context, chainID uint64) ([]*Deployment, error) {
	query := `
		SELECT id, run_id, chain_id, migration, contract, name, address,
		       tx_hash, block_number, gas_used, args, created_at
		FROM contract_deployments
		WHERE $1::BIGINT = 0 OR chain_id = $1::BIGINT
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, int64(chainID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestDeployment returns the most recent deployment of contract on chainID.
func (r *postgresRepo) LatestDeployment(ctx context.Context, chainID uint64, contract string) (*Deployment, error) {
	query := `
		SELECT id, run_id, chain_id, migration, contract, name, address,
		       tx_hash, block_number, gas_used, args, created_at
		FROM contract_deployments
		WHERE chain_id = $1 AND contract = $2
		ORDER BY created_at DESC
		LIMIT 1`

	d, err := scanDeployment(r.pool.QueryRow(ctx, query, int64(chainID), contract))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run                    Run
		chainID, lastCompleted int64
		status                 string
	)
	err := row.Scan(
		&run.ID,
		&chainID,
		&run.Network,
		&run.Deployer,
		&lastCompleted,
		&status,
		&run.Error,
		&run.DryRun,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.ChainID = uint64(chainID)
	run.LastCompleted = uint64(lastCompleted)
	run.Status = RunStatus(status)
	return &run, nil
}

func scanDeployment(row pgx.Row) (*Deployment, error) {
	var (
		d                                       Deployment
		chainID, migration, blockNumber, gasUsed int64
	)
	err := row.Scan(
		&d.ID,
		&d.RunID,
		&chainID,
		&migration,
		&d.Contract,
		&d.Name,
		&d.Address,
		&d.TxHash,
		&blockNumber,
		&gasUsed,
		&d.Args,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ChainID = uint64(chainID)
	d.Migration = uint64(migration)
	d.BlockNumber = uint64(blockNumber)
	d.GasUsed = uint64(gasUsed)
	return &d, nil
}
