package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/nitro-migrate/internal/metrics"
	"github.com/Bidon15/nitro-migrate/internal/repository"
)

// MockRepository is a mock implementation of repository.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateRun(ctx context.Context, run *repository.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRepository) FinishRun(ctx context.Context, id uuid.UUID, status repository.RunStatus, lastCompleted uint64, errMsg string) error {
	args := m.Called(ctx, id, status, lastCompleted, errMsg)
	return args.Error(0)
}

func (m *MockRepository) GetRun(ctx context.Context, id uuid.UUID) (*repository.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Run), args.Error(1)
}

func (m *MockRepository) ListRuns(ctx context.Context, chainID uint64, limit int) ([]*repository.Run, error) {
	args := m.Called(ctx, chainID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Run), args.Error(1)
}

func (m *MockRepository) RecordDeployment(ctx context.Context, d *repository.Deployment) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRepository) ListDeployments(ctx context.Context, chainID uint64) ([]*repository.Deployment, error) {
	args := m.Called(ctx, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Deployment), args.Error(1)
}

func (m *MockRepository) LatestDeployment(ctx context.Context, chainID uint64, contract string) (*repository.Deployment, error) {
	args := m.Called(ctx, chainID, contract)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Deployment), args.Error(1)
}

func serve(t *testing.T, h *Handler, method, target string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]json.RawMessage
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	h := NewHandler(new(MockRepository), nil, nil)
	rec, body := serve(t, h, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body["data"]))
}

func TestListDeployments(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListDeployments", mock.Anything, uint64(11155111)).Return([]*repository.Deployment{
		{Contract: "NitroCollection", Name: "NitroCollection[tier-1]", Address: "0x01", ChainID: 11155111},
	}, nil)

	rec, body := serve(t, NewHandler(repo, nil, nil), http.MethodGet, "/api/v1/deployments?chain_id=11155111")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []repository.Deployment
	require.NoError(t, json.Unmarshal(body["data"], &got))
	require.Len(t, got, 1)
	assert.Equal(t, "NitroCollection[tier-1]", got[0].Name)
	repo.AssertExpectations(t)
}

func TestListDeployments_Empty(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListDeployments", mock.Anything, uint64(0)).Return(nil, nil)

	rec, body := serve(t, NewHandler(repo, nil, nil), http.MethodGet, "/api/v1/deployments")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(body["data"]))
}

func TestListDeployments_BadChainID(t *testing.T) {
	repo := new(MockRepository)

	rec, body := serve(t, NewHandler(repo, nil, nil), http.MethodGet, "/api/v1/deployments?chain_id=sepolia")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":"invalid_chain_id","message":"chain_id must be a positive integer"}`, string(body["error"]))
	repo.AssertNotCalled(t, "ListDeployments", mock.Anything, mock.Anything)
}

func TestListRuns(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
		wantCode  int
	}{
		{"default limit", "", 50, http.StatusOK},
		{"custom limit", "?limit=5", 5, http.StatusOK},
		{"limit too large", "?limit=1000", 0, http.StatusBadRequest},
		{"limit not a number", "?limit=all", 0, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockRepository)
			if tc.wantCode == http.StatusOK {
				repo.On("ListRuns", mock.Anything, uint64(0), tc.wantLimit).Return([]*repository.Run{}, nil)
			}

			rec, _ := serve(t, NewHandler(repo, nil, nil), http.MethodGet, "/api/v1/runs"+tc.query)
			assert.Equal(t, tc.wantCode, rec.Code)
			repo.AssertExpectations(t)
		})
	}
}

func TestListRuns_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListRuns", mock.Anything, uint64(0), 50).Return(nil, errors.New("connection reset"))

	rec, body := serve(t, NewHandler(repo, nil, nil), http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, string(body["error"]), "connection reset")
}

func TestGetRun(t *testing.T) {
	id := uuid.New()
	missing := uuid.New()
	repo := new(MockRepository)
	repo.On("GetRun", mock.Anything, id).Return(&repository.Run{
		ID:            id,
		ChainID:       1337,
		Status:        repository.RunStatusCompleted,
		LastCompleted: 2,
		StartedAt:     time.Now(),
	}, nil)
	repo.On("GetRun", mock.Anything, missing).Return(nil, nil)
	h := NewHandler(repo, nil, nil)

	rec, body := serve(t, h, http.MethodGet, "/api/v1/runs/"+id.String())
	assert.Equal(t, http.StatusOK, rec.Code)
	var got repository.Run
	require.NoError(t, json.Unmarshal(body["data"], &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, uint64(2), got.LastCompleted)

	rec, body = serve(t, h, http.MethodGet, "/api/v1/runs/"+missing.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(body["error"]), "not_found")

	rec, _ = serve(t, h, http.MethodGet, "/api/v1/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SetLastCompleted(1337, 2)

	rec := httptest.NewRecorder()
	NewHandler(new(MockRepository), m, nil).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nitro_migrate_last_completed_migration{chain_id="1337"} 2`)

	rec = httptest.NewRecorder()
	NewHandler(new(MockRepository), nil, nil).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
