package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Bidon15/nitro-migrate/internal/artifacts"
	"github.com/Bidon15/nitro-migrate/internal/config"
	"github.com/Bidon15/nitro-migrate/internal/deployer"
	"github.com/Bidon15/nitro-migrate/internal/lock"
	"github.com/Bidon15/nitro-migrate/internal/metrics"
	"github.com/Bidon15/nitro-migrate/internal/plan"
	"github.com/Bidon15/nitro-migrate/internal/repository"
	"github.com/Bidon15/nitro-migrate/internal/runner"
)

// app holds everything a command needs to talk to the chain and record results.
type app struct {
	cfg      *config.Config
	plan     *plan.Plan
	store    *artifacts.Store
	client   *ethclient.Client
	signer   deployer.Signer
	deployer *deployer.Deployer
	repo     repository.Repository
	locker   lock.Locker
	metrics  *metrics.Metrics
	runner   *runner.Runner
	logger   *slog.Logger

	closers []func()
}

// loadPlan returns the plan from plan_dir, or the built-in one.
func loadPlan(cfg *config.Config) (*plan.Plan, error) {
	if cfg.PlanDir != "" {
		return plan.LoadDir(cfg.PlanDir)
	}
	return plan.Builtin()
}

// openRepository connects to PostgreSQL when database_url is set, otherwise
// keeps records in memory.
func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryRepository(), func() {}, nil
	}
	return repository.Open(ctx, cfg.DatabaseURL)
}

// openLocker uses Redis when redis_url is set, otherwise an in-process lock.
func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocalLocker(), func() {}, nil
	}
	l, closeFn, err := lock.NewRedisLockerFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = closeFn() }, nil
}

// newApp loads and validates the configuration and wires every component.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   artifacts.NewStore(cfg.ArtifactsDir),
		metrics: metrics.New(),
		logger:  slog.Default().With(slog.String("network", cfg.Network.Name)),
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	var err error

	if a.plan, err = loadPlan(a.cfg); err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if err := a.plan.Validate(); err != nil {
		return err
	}

	signer, err := a.cfg.Signer()
	if err != nil {
		return fmt.Errorf("load deployer key: %w", err)
	}
	a.signer = signer

	if a.client, err = ethclient.DialContext(ctx, a.cfg.Network.RPCURL); err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.Network.RPCURL, err)
	}
	a.closers = append(a.closers, a.client.Close)

	a.deployer = deployer.New(a.client, a.signer, a.cfg.TxConfig(), deployer.WithLogger(a.logger))

	repo, closeRepo, err := openRepository(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, closeRepo)

	locker, closeLocker, err := openLocker(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open lock: %w", err)
	}
	a.locker = locker
	a.closers = append(a.closers, closeLocker)

	a.runner, err = runner.New(a.plan, a.store, a.deployer,
		runner.Config{
			Network: a.cfg.Network.Name,
			ChainID: a.cfg.Network.ChainID,
			LockTTL: a.cfg.LockTTL,
		},
		runner.WithRepository(a.repo),
		runner.WithLocker(a.locker),
		runner.WithMetrics(a.metrics),
		runner.WithLogger(a.logger),
	)
	return err
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
