package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/core/engine"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("ok", stubChecker{err: nil})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["ok"])
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", stubChecker{err: errors.New("down")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, StatusUnhealthy, checks["store"])
}

func TestHealthHandlerReportsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("breakers", stubChecker{err: fmt.Errorf("%w: circuit open", ErrDegraded)})
	manager.RegisterChecker("store", stubChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusDegraded, resp.Checks["breakers"])
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	status := manager.determineOverallStatus(map[string]string{"store": StatusTimeout})
	assert.Equal(t, StatusDegraded, status)
}

func TestReadinessOnlyConsidersCriticalCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterCritical("store", stubChecker{})
	manager.RegisterChecker("marketplace", stubChecker{err: errors.New("error rate high")})

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	manager.RegisterCritical("store", stubChecker{err: errors.New("closed")})
	rec = httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartupAndLiveness(t *testing.T) {
	manager := NewHealthManager("dev")

	rec := httptest.NewRecorder()
	manager.StartupHandler(rec, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	manager.MarkStarted()
	rec = httptest.NewRecorder()
	manager.StartupHandler(rec, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitorChecker(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	monitor := engine.NewMonitor(time.Minute, engine.DefaultThresholds, clock)

	checker := MonitorChecker{Monitor: monitor}
	require.NoError(t, checker.CheckHealth(context.Background()))

	for i := 0; i < 4; i++ {
		monitor.Record(core.RequestMetric{Timestamp: now, Scope: "main", Success: i == 0, StatusCode: 500, ErrorCode: core.CodeTransient})
	}
	err := checker.CheckHealth(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDegraded))
}

func TestBreakerChecker(t *testing.T) {
	registry, err := engine.NewBreakerRegistry(engine.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, nil)
	require.NoError(t, err)

	checker := BreakerChecker{Breakers: registry}
	registry.Get("marketplace:api.example.test")
	require.NoError(t, checker.CheckHealth(context.Background()))

	registry.Get("marketplace:api.example.test").RecordFailure()
	err = checker.CheckHealth(context.Background())
	require.ErrorIs(t, err, ErrDegraded)
	assert.Contains(t, err.Error(), "marketplace:api.example.test=open")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestStoreChecker(t *testing.T) {
	assert.Error(t, StoreChecker{}.CheckHealth(context.Background()))
	assert.NoError(t, StoreChecker{Store: pingFunc(func(context.Context) error { return nil })}.CheckHealth(context.Background()))
	assert.Error(t, StoreChecker{Store: pingFunc(func(context.Context) error { return errors.New("closed") })}.CheckHealth(context.Background()))

	var check HealthChecker = CheckFunc(func(context.Context) error { return nil })
	assert.NoError(t, check.CheckHealth(context.Background()))
}
