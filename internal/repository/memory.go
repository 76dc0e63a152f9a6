package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu          sync.RWMutex
	runs        map[uuid.UUID]*Run
	deployments []*Deployment
}

// NewMemoryRepository returns a Repository that keeps everything in process.
func NewMemoryRepository() Repository {
	return &memoryRepo{runs: make(map[uuid.UUID]*Run)}
}

func (r *memoryRepo) CreateRun(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memoryRepo) FinishRun(_ context.Context, id uuid.UUID, status RunStatus, lastCompleted uint64, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	now := time.Now()
	run.Status = status
	run.LastCompleted = lastCompleted
	run.FinishedAt = &now
	if errMsg != "" {
		run.Error = &errMsg
	}
	return nil
}

func (r *memoryRepo) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (r *memoryRepo) ListRuns(_ context.Context, chainID uint64, limit int) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Run
	for _, run := range r.runs {
		if chainID != 0 && run.ChainID != chainID {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) RecordDeployment(_ context.Context, d *Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	r.deployments = append(r.deployments, &cp)
	return nil
}

func (r *memoryRepo) ListDeployments(_ context.Context, chainID uint64) ([]*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Deployment
	for _, d := range r.deployments {
		if chainID != 0 && d.ChainID != chainID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryRepo) LatestDeployment(_ context.Context, chainID uint64, contract string) (*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.deployments) - 1; i >= 0; i-- {
		d := r.deployments[i]
		if d.ChainID == chainID && d.Contract == contract {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}
