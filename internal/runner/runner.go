// Package runner executes deployment migrations in order against a chain and
// records what it deployed.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bidon15/nitro-migrate/internal/artifacts"
	"github.com/Bidon15/nitro-migrate/internal/deployer"
	"github.com/Bidon15/nitro-migrate/internal/lock"
	"github.com/Bidon15/nitro-migrate/internal/metrics"
	"github.com/Bidon15/nitro-migrate/internal/plan"
	"github.com/Bidon15/nitro-migrate/internal/repository"
)

// DefaultLockTTL bounds how long a crashed run can hold the lock.
const DefaultLockTTL = 30 * time.Minute

// ErrNothingToRun is returned by Run when no migration is selected.
var ErrNothingToRun = errors.New("runner: no pending migrations")

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(stage string, progress float64, message string)

// Config identifies the target chain.
type Config struct {
	Network string
	ChainID uint64
	LockTTL time.Duration
}

// Options control a single run.
type Options struct {
	// DryRun packs every deployment without sending anything.
	DryRun bool
	// Reset ignores the recorded progress and runs from the first migration.
	Reset bool
	// From and To restrict the run to migrations numbered within [From, To].
	// From ignores recorded progress. A zero bound is open.
	From uint64
	To   uint64

	OnProgress ProgressCallback
}

// PlannedDeployment describes a deployment in a dry run.
type PlannedDeployment struct {
	Name         string   `json:"name"`
	Contract     string   `json:"contract"`
	ArgTypes     []string `json:"arg_types"`
	CalldataSize int      `json:"calldata_size"`
}

// MigrationReport is the outcome of one migration.
type MigrationReport struct {
	Number      uint64              `json:"number"`
	Name        string              `json:"name"`
	Await       bool                `json:"await"`
	Deployments []*deployer.Result  `json:"deployments,omitempty"`
	Planned     []PlannedDeployment `json:"planned,omitempty"`
	Duration    time.Duration       `json:"duration_ns"`
	Error       string              `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID         uuid.UUID          `json:"run_id"`
	Network       string             `json:"network"`
	ChainID       uint64             `json:"chain_id"`
	Deployer      string             `json:"deployer"`
	DryRun        bool               `json:"dry_run"`
	Tracker       string             `json:"tracker,omitempty"`
	StartedFrom   uint64             `json:"started_from"`
	LastCompleted uint64             `json:"last_completed"`
	Migrations    []*MigrationReport `json:"migrations"`
}

// Runner executes a plan with a single deploying account.
type Runner struct {
	plan     *plan.Plan
	store    *artifacts.Store
	deployer *deployer.Deployer
	repo     repository.Repository
	locker   lock.Locker
	metrics  *metrics.Metrics
	config   Config
	logger   *slog.Logger

	migrationsABI abi.ABI
}

// Option configures a Runner.
type Option func(*Runner)

// WithRepository sets where runs and deployments are recorded.
func WithRepository(repo repository.Repository) Option {
	return func(r *Runner) {
		if repo != nil {
			r.repo = repo
		}
	}
}

// WithLocker sets the run lock implementation.
func WithLocker(l lock.Locker) Option {
	return func(r *Runner) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a runner. Without options it records to memory and locks in process.
func New(p *plan.Plan, store *artifacts.Store, d *deployer.Deployer, config Config, opts ...Option) (*Runner, error) {
	parsed, err := artifacts.ParseMigrationsABI()
	if err != nil {
		return nil, fmt.Errorf("parse Migrations ABI: %w", err)
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	r := &Runner{
		plan:          p,
		store:         store,
		deployer:      d,
		repo:          repository.NewMemoryRepository(),
		locker:        lock.NewLocalLocker(),
		config:        config,
		logger:        slog.Default(),
		migrationsABI: parsed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the selected migrations. A failed migration stops the run and
// later migrations are not attempted.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	deployerAddr := r.deployer.Address().Hex()

	if !opts.DryRun {
		release, err := r.locker.Acquire(ctx, lock.Key(r.config.ChainID, deployerAddr), r.config.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				r.logger.Warn("failed to release run lock", slog.String("error", relErr.Error()))
			}
		}()
		// Another process may have used the account since the last run.
		r.deployer.ResetNonce()
	}

	if err := r.deployer.CheckChain(ctx, r.config.ChainID); err != nil {
		return nil, err
	}

	arts, err := r.store.LoadAll(r.plan.Contracts())
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}

	tracker, hasTracker, err := r.locateTracker(ctx)
	if err != nil {
		return nil, err
	}

	var last uint64
	if hasTracker {
		last, hasTracker, err = r.lastCompleted(ctx, tracker)
		if err != nil {
			return nil, err
		}
	}
	if opts.Reset {
		last = 0
	}

	report := &Report{
		Network:     r.config.Network,
		ChainID:     r.config.ChainID,
		Deployer:    deployerAddr,
		DryRun:      opts.DryRun,
		StartedFrom: last,
	}
	if hasTracker {
		report.Tracker = tracker.Hex()
	}

	selected := r.selectMigrations(last, opts)
	if len(selected) == 0 {
		report.LastCompleted = last
		return report, ErrNothingToRun
	}

	run := &repository.Run{
		ChainID:       r.config.ChainID,
		Network:       r.config.Network,
		Deployer:      deployerAddr,
		LastCompleted: last,
		DryRun:        opts.DryRun,
	}
	if err := r.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	report.RunID = run.ID

	r.logger.Info("starting migration run",
		slog.String("run_id", run.ID.String()),
		slog.String("network", r.config.Network),
		slog.Uint64("chain_id", r.config.ChainID),
		slog.String("deployer", deployerAddr),
		slog.Uint64("last_completed", last),
		slog.Int("migrations", len(selected)),
		slog.Bool("dry_run", opts.DryRun),
	)

	if opts.DryRun {
		for _, m := range selected {
			mr, err := r.dryRun(m, arts)
			report.Migrations = append(report.Migrations, mr)
			if err != nil {
				return report, r.failRun(ctx, run, last, err)
			}
		}
		report.LastCompleted = last
		r.finishRun(ctx, run, last)
		return report, nil
	}

	for i, m := range selected {
		stage := m.ID()
		r.report(opts.OnProgress, run.ID, stage, float64(i)/float64(len(selected)), "Running migration "+stage)

		started := time.Now()
		results, err := r.execute(ctx, run, m, arts)
		mr := &MigrationReport{
			Number:      m.Number,
			Name:        m.Name,
			Await:       m.Await,
			Deployments: results,
			Duration:    time.Since(started),
		}
		report.Migrations = append(report.Migrations, mr)

		if err != nil {
			mr.Error = err.Error()
			report.LastCompleted = last
			return report, r.failRun(ctx, run, last, fmt.Errorf("migration %s: %w", stage, err))
		}

		for _, res := range results {
			if res.Contract == artifacts.MigrationsContract {
				tracker, hasTracker = res.Address, true
				report.Tracker = tracker.Hex()
			}
		}

		if hasTracker {
			if err := r.setCompleted(ctx, tracker, m.Number); err != nil {
				mr.Error = err.Error()
				report.LastCompleted = last
				return report, r.failRun(ctx, run, last, fmt.Errorf("migration %s: %w", stage, err))
			}
		} else {
			r.logger.Warn("no Migrations contract, progress not recorded on chain",
				slog.String("migration", stage),
			)
		}

		last = m.Number
		mr.Duration = time.Since(started)
		r.metrics.ObserveMigration(m.Number, mr.Duration)
		r.metrics.SetLastCompleted(r.config.ChainID, last)
	}

	r.report(opts.OnProgress, run.ID, "complete", 1.0, "Migration run complete")
	report.LastCompleted = last
	r.finishRun(ctx, run, last)
	return report, nil
}

// selectMigrations picks the migrations a run executes, in number order.
func (r *Runner) selectMigrations(last uint64, opts Options) []*plan.Migration {
	if opts.From != 0 {
		return r.plan.Range(opts.From, opts.To)
	}
	var out []*plan.Migration
	for _, m := range r.plan.Pending(last) {
		if opts.To != 0 && m.Number > opts.To {
			continue
		}
		out = append(out, m)
	}
	return out
}

// execute deploys every contract in m and records each confirmed result.
func (r *Runner) execute(ctx context.Context, run *repository.Run, m *plan.Migration, arts map[string]*artifacts.ContractArtifact) ([]*deployer.Result, error) {
	if m.Await {
		var results []*deployer.Result
		for _, d := range m.Deployments {
			res, err := r.deployer.Deploy(ctx, r.request(d, arts))
			if err != nil {
				r.metrics.ObserveDeployment(d.Contract, metrics.StatusFailed, 0)
				return results, err
			}
			if err := r.record(ctx, run, m, d, res); err != nil {
				return append(results, res), err
			}
			results = append(results, res)
		}
		return results, nil
	}

	// Submit everything first so nonces stay consecutive, then wait in
	// parallel. Every receipt is awaited even if one fails so that all mined
	// contracts get recorded.
	var (
		pending   []*deployer.Pending
		submitErr error
	)
	for _, d := range m.Deployments {
		p, err := r.deployer.Submit(ctx, r.request(d, arts))
		if err != nil {
			r.metrics.ObserveDeployment(d.Contract, metrics.StatusFailed, 0)
			submitErr = err
			break
		}
		pending = append(pending, p)
	}

	mined := make([]*deployer.Result, len(pending))
	var g errgroup.Group
	for i, p := range pending {
		i, p := i, p
		g.Go(func() error {
			res, err := r.deployer.Wait(ctx, p)
			if err != nil {
				r.metrics.ObserveDeployment(p.Contract, metrics.StatusFailed, 0)
				return err
			}
			mined[i] = res
			return nil
		})
	}
	waitErr := g.Wait()

	var results []*deployer.Result
	for i, res := range mined {
		if res == nil {
			continue
		}
		if err := r.record(ctx, run, m, m.Deployments[i], res); err != nil {
			return append(results, res), err
		}
		results = append(results, res)
	}

	if submitErr != nil {
		return results, submitErr
	}
	return results, waitErr
}

func (r *Runner) request(d plan.Deployment, arts map[string]*artifacts.ContractArtifact) deployer.Request {
	return deployer.Request{
		Name:     d.DisplayName(),
		Artifact: arts[d.Contract],
		Args:     d.Args,
	}
}

// record persists a confirmed deployment to the repository and the artifact.
func (r *Runner) record(ctx context.Context, run *repository.Run, m *plan.Migration, d plan.Deployment, res *deployer.Result) error {
	r.metrics.ObserveDeployment(res.Contract, metrics.StatusSuccess, res.GasUsed)

	args, err := json.Marshal(d.Args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", res.Name, err)
	}
	if args == nil || string(args) == "null" {
		args = []byte("[]")
	}

	if err := r.repo.RecordDeployment(ctx, &repository.Deployment{
		RunID:       run.ID,
		ChainID:     r.config.ChainID,
		Migration:   m.Number,
		Contract:    res.Contract,
		Name:        res.Name,
		Address:     res.Address.Hex(),
		TxHash:      res.TxHash.Hex(),
		BlockNumber: res.BlockNumber,
		GasUsed:     res.GasUsed,
		Args:        args,
	}); err != nil {
		return fmt.Errorf("record %s: %w", res.Name, err)
	}

	if err := r.store.RecordNetwork(res.Contract, r.config.ChainID, res.Address, res.TxHash); err != nil {
		r.logger.Warn("failed to update artifact networks",
			slog.String("contract", res.Contract),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// dryRun packs every deployment of m without sending anything.
func (r *Runner) dryRun(m *plan.Migration, arts map[string]*artifacts.ContractArtifact) (*MigrationReport, error) {
	mr := &MigrationReport{Number: m.Number, Name: m.Name, Await: m.Await}
	for _, d := range m.Deployments {
		art := arts[d.Contract]
		packed, err := deployer.PackConstructor(art.ABIDef(), d.Args)
		if err != nil {
			mr.Error = err.Error()
			return mr, fmt.Errorf("pack %s constructor: %w", d.DisplayName(), err)
		}

		var argTypes []string
		for _, in := range art.ABIDef().Constructor.Inputs {
			argTypes = append(argTypes, in.Type.String())
		}
		mr.Planned = append(mr.Planned, PlannedDeployment{
			Name:         d.DisplayName(),
			Contract:     d.Contract,
			ArgTypes:     argTypes,
			CalldataSize: len(art.Code()) + len(packed),
		})
		r.metrics.ObserveDeployment(d.Contract, metrics.StatusDryRun, 0)
	}
	return mr, nil
}

func (r *Runner) setCompleted(ctx context.Context, tracker common.Address, number uint64) error {
	data, err := r.migrationsABI.Pack("setCompleted", new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("pack setCompleted: %w", err)
	}
	if _, err := r.deployer.Transact(ctx, tracker, data, "setCompleted"); err != nil {
		return err
	}
	r.logger.Info("migration recorded on chain",
		slog.String("tracker", tracker.Hex()),
		slog.Uint64("migration", number),
	)
	return nil
}

// locateTracker finds the Migrations contract for the configured chain,
// preferring the repository over the artifact networks map.
func (r *Runner) locateTracker(ctx context.Context) (common.Address, bool, error) {
	d, err := r.repo.LatestDeployment(ctx, r.config.ChainID, artifacts.MigrationsContract)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("look up Migrations deployment: %w", err)
	}
	if d != nil && common.IsHexAddress(d.Address) {
		return common.HexToAddress(d.Address), true, nil
	}

	art, err := r.store.Load(artifacts.MigrationsContract)
	if errors.Is(err, artifacts.ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	addr, ok := art.AddressOn(r.config.ChainID)
	return addr, ok, nil
}

// lastCompleted reads the tracker. It reports false when no contract
// answers at the address.
func (r *Runner) lastCompleted(ctx context.Context, tracker common.Address) (uint64, bool, error) {
	data, err := r.migrationsABI.Pack("last_completed_migration")
	if err != nil {
		return 0, false, fmt.Errorf("pack last_completed_migration: %w", err)
	}
	out, err := r.deployer.Call(ctx, tracker, data)
	if err != nil {
		return 0, false, fmt.Errorf("read last completed migration: %w", err)
	}
	if len(out) == 0 {
		r.logger.Warn("Migrations contract not found on chain, starting from the first migration",
			slog.String("tracker", tracker.Hex()),
		)
		return 0, false, nil
	}

	values, err := r.migrationsABI.Unpack("last_completed_migration", out)
	if err != nil {
		return 0, false, fmt.Errorf("decode last completed migration: %w", err)
	}
	n, ok := values[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, false, fmt.Errorf("decode last completed migration: unexpected value %v", values[0])
	}
	return n.Uint64(), true, nil
}

func (r *Runner) report(cb ProgressCallback, runID uuid.UUID, stage string, progress float64, message string) {
	if cb != nil {
		cb(stage, progress, message)
	}
	r.logger.Info(message,
		slog.String("run_id", runID.String()),
		slog.String("stage", stage),
		slog.Float64("progress", progress),
	)
}

func (r *Runner) finishRun(ctx context.Context, run *repository.Run, last uint64) {
	if err := r.repo.FinishRun(context.WithoutCancel(ctx), run.ID, repository.RunStatusCompleted, last, ""); err != nil {
		r.logger.Warn("failed to update run status", slog.String("error", err.Error()))
	}
}

func (r *Runner) failRun(ctx context.Context, run *repository.Run, last uint64, err error) error {
	r.logger.Error("migration run failed",
		slog.String("run_id", run.ID.String()),
		slog.Uint64("last_completed", last),
		slog.String("error", err.Error()),
	)

	if setErr := r.repo.FinishRun(context.WithoutCancel(ctx), run.ID, repository.RunStatusFailed, last, err.Error()); setErr != nil {
		r.logger.Warn("failed to update run status", slog.String("error", setErr.Error()))
	}
	return err
}
