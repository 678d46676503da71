package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/core/engine"
	apperrors "github.com/catalogsync/catalogsync/internal/errors"
)

const maxRunsLimit = 200

// SyncController is the runner surface used by the sync endpoints.
type SyncController interface {
	Status() engine.RunnerStatus
	Trigger(ctx context.Context) error
}

// RunLister reads persisted run reports.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]*core.SyncRun, error)
}

// SyncHandlers serves run status, history and manual triggers.
type SyncHandlers struct {
	Runner   SyncController
	Runs     RunLister
	Monitor  *engine.Monitor
	Breakers *engine.BreakerRegistry
	// TriggerLimiter throttles manual triggers; nil admits every call.
	TriggerLimiter *rate.Limiter
}

// SyncStatusResponse is the /sync/status body.
type SyncStatusResponse struct {
	Runner   engine.RunnerStatus      `json:"runner"`
	Metrics  engine.MetricsSnapshot   `json:"metrics"`
	Health   engine.HealthReport      `json:"health"`
	Breakers []engine.BreakerSnapshot `json:"breakers"`
}

// RunsResponse is the /sync/runs body.
type RunsResponse struct {
	Runs  []*core.SyncRun `json:"runs"`
	Count int             `json:"count"`
}

// TriggerResponse acknowledges a manual run.
type TriggerResponse struct {
	Status string `json:"status"`
}

// Status reports the runner state, monitor aggregates and breaker states.
func (h *SyncHandlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{Breakers: []engine.BreakerSnapshot{}}
	if h.Monitor != nil {
		resp.Metrics = h.Monitor.Metrics()
		resp.Health = h.Monitor.Health()
	}
	if h.Runner != nil {
		resp.Runner = h.Runner.Status()
	}
	if h.Breakers != nil {
		resp.Breakers = h.Breakers.Snapshots()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns the most recent persisted runs; ?limit= caps the count.
func (h *SyncHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("run history is not available"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRunsLimit {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be between 1 and 200"))
			return
		}
		limit = parsed
	}

	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list sync runs"))
		return
	}
	if runs == nil {
		runs = []*core.SyncRun{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// Trigger starts a background run. It answers 409 while one is active and
// 429 when manual triggers come faster than TriggerLimiter allows.
func (h *SyncHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("sync runner is not available"))
		return
	}

	if h.TriggerLimiter != nil && !h.TriggerLimiter.Allow() {
		respondWithError(w, r, apperrors.NewRateLimitedError("manual sync triggers are throttled; retry later"))
		return
	}

	if err := h.Runner.Trigger(r.Context()); err != nil {
		switch {
		case errors.Is(err, engine.ErrSyncInProgress):
			respondWithError(w, r, apperrors.NewConflictError("a sync run is already in progress"))
			return
		case errors.Is(err, engine.ErrRunnerStopped):
			respondWithError(w, r, apperrors.NewServiceUnavailableError("sync runner is shutting down"))
			return
		}
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "accepted"})
}
