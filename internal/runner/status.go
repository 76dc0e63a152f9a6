package runner

import (
	"context"
	"fmt"

	"github.com/Bidon15/nitro-migrate/internal/repository"
)

// PendingMigration is a migration that has not run on the chain yet.
type PendingMigration struct {
	Number      uint64 `json:"number"`
	Name        string `json:"name"`
	Await       bool   `json:"await"`
	Deployments int    `json:"deployments"`
}

// Status is the migration state of the configured chain.
type Status struct {
	Network       string                   `json:"network"`
	ChainID       uint64                   `json:"chain_id"`
	Tracker       string                   `json:"tracker,omitempty"`
	LastCompleted uint64                   `json:"last_completed"`
	Pending       []PendingMigration       `json:"pending"`
	Deployments   []*repository.Deployment `json:"deployments"`
}

// Status reads the tracker and lists pending migrations and recorded deployments.
func (r *Runner) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Network: r.config.Network,
		ChainID: r.config.ChainID,
		Pending: []PendingMigration{},
	}

	tracker, ok, err := r.locateTracker(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		last, deployed, err := r.lastCompleted(ctx, tracker)
		if err != nil {
			return nil, err
		}
		if deployed {
			st.Tracker = tracker.Hex()
			st.LastCompleted = last
		}
	}

	for _, m := range r.plan.Pending(st.LastCompleted) {
		st.Pending = append(st.Pending, PendingMigration{
			Number:      m.Number,
			Name:        m.Name,
			Await:       m.Await,
			Deployments: len(m.Deployments),
		})
	}

	deployments, err := r.repo.ListDeployments(ctx, r.config.ChainID)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	if deployments == nil {
		deployments = []*repository.Deployment{}
	}
	st.Deployments = deployments
	return st, nil
}
