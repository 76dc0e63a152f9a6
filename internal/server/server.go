// Package server exposes migration runs, deployments and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Bidon15/nitro-migrate/internal/metrics"
	"github.com/Bidon15/nitro-migrate/internal/repository"
)

const shutdownTimeout = 10 * time.Second

// APIError is the error body returned by every endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response wraps every JSON body.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *APIError   `json:"error,omitempty"`
}

// Handler serves the status API.
type Handler struct {
	repo    repository.Repository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates a handler. metrics may be nil, in which case /metrics is not served.
func NewHandler(repo repository.Repository, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, metrics: m, logger: logger}
}

// Routes returns the router for all endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/deployments", h.ListDeployments)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
	})
	return r
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListDeployments handles GET /api/v1/deployments?chain_id=
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(w, r)
	if !ok {
		return
	}

	deployments, err := h.repo.ListDeployments(r.Context(), chainID)
	if err != nil {
		h.internalError(w, "list deployments", err)
		return
	}
	if deployments == nil {
		deployments = []*repository.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

// ListRuns handles GET /api/v1/runs?chain_id=&limit=
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(w, r)
	if !ok {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), chainID, limit)
	if err != nil {
		h.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []*repository.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "run id must be a UUID")
		return
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.internalError(w, "get run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", slog.String("op", op), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func parseChainID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("chain_id")
	if raw == "" {
		return 0, true
	}
	chainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_chain_id", "chain_id must be a positive integer")
		return 0, false
	}
	return chainID, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Error: &APIError{Code: code, Message: message}})
}

// ListenAndServe serves h on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("status server stopped")
		return nil
	}
}
