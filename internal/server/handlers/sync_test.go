package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/core/engine"
)

type stubController struct {
	status     engine.RunnerStatus
	triggerErr error
	triggered  int
}

func (s *stubController) Status() engine.RunnerStatus { return s.status }

func (s *stubController) Trigger(context.Context) error {
	s.triggered++
	return s.triggerErr
}

type stubRuns struct {
	runs  []*core.SyncRun
	err   error
	limit int
}

func (s *stubRuns) ListRuns(_ context.Context, limit int) ([]*core.SyncRun, error) {
	s.limit = limit
	return s.runs, s.err
}

func TestSyncStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	monitor := engine.NewMonitor(time.Minute, engine.DefaultThresholds, func() time.Time { return now })
	monitor.Record(core.RequestMetric{Timestamp: now, Scope: "main", Endpoint: "/list", StatusCode: 200, Success: true})

	registry, err := engine.NewBreakerRegistry(engine.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, nil)
	require.NoError(t, err)
	registry.Get("marketplace:api.example.test")

	h := &SyncHandlers{
		Runner: &stubController{status: engine.RunnerStatus{
			RunCount: 2,
			LastRun:  &core.SyncRun{ID: "run-2", Status: core.RunCompleted},
		}},
		Monitor:  monitor,
		Breakers: registry,
	}

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Runner.RunCount)
	require.NotNil(t, resp.Runner.LastRun)
	assert.Equal(t, "run-2", resp.Runner.LastRun.ID)
	assert.Equal(t, 1, resp.Metrics.Total)
	assert.Equal(t, engine.HealthHealthy, resp.Health.Status)
	require.Len(t, resp.Breakers, 1)
	assert.Equal(t, engine.StateClosed, resp.Breakers[0].State)
}

func TestListRuns(t *testing.T) {
	runs := &stubRuns{runs: []*core.SyncRun{{ID: "run-1", Status: core.RunFailed}}}
	h := &SyncHandlers{Runs: runs}

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/sync/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)

	var resp RunsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, core.RunFailed, resp.Runs[0].Status)

	rec = httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/sync/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs.err = errors.New("database is locked")
	rec = httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/sync/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 20, runs.limit)

	rec = httptest.NewRecorder()
	(&SyncHandlers{}).ListRuns(rec, httptest.NewRequest(http.MethodGet, "/sync/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrigger(t *testing.T) {
	controller := &stubController{}
	h := &SyncHandlers{Runner: controller}

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, controller.triggered)

	controller.triggerErr = engine.ErrSyncInProgress
	rec = httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "CONFLICT", body.Error.Code)
}

func TestTriggerWhileRunnerStops(t *testing.T) {
	h := &SyncHandlers{Runner: &stubController{triggerErr: engine.ErrRunnerStopped}}

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerThrottled(t *testing.T) {
	controller := &stubController{}
	h := &SyncHandlers{Runner: controller, TriggerLimiter: rate.NewLimiter(rate.Every(time.Hour), 1)}

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, controller.triggered, "throttled calls never reach the runner")
}
