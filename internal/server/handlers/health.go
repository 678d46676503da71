package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/catalogsync/catalogsync/internal/errors"
	"github.com/catalogsync/catalogsync/internal/metrics"
)

// Check results reported per checker.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// ErrDegraded marks a checker failure that should degrade, not fail, health.
var ErrDegraded = errors.New("degraded")

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// EndpointStatus is the body of the liveness, readiness and startup endpoints.
type EndpointStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthManager runs registered checks for the health endpoints. Readiness
// only considers checkers registered as critical.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	critical map[string]bool
	version  string
	started  bool
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		critical: make(map[string]bool),
		version:  version,
	}
}

// RegisterChecker registers a non-critical health checker.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// RegisterCritical registers a checker that also gates readiness.
func (hm *HealthManager) RegisterCritical(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
	hm.critical[name] = true
}

// MarkStarted flips the startup endpoint to healthy.
func (hm *HealthManager) MarkStarted() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.started = true
}

// Check runs every checker and returns the aggregate status.
func (hm *HealthManager) Check(ctx context.Context) (string, map[string]string) {
	checks := hm.runHealthChecks(ctx, false)
	return hm.determineOverallStatus(checks), checks
}

// runHealthChecks executes the registered checks in name order.
func (hm *HealthManager) runHealthChecks(ctx context.Context, criticalOnly bool) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		if criticalOnly && !hm.critical[name] {
			continue
		}
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(names))
	for _, name := range names {
		checkers[name] = hm.checkers[name]
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		select {
		case <-ctx.Done():
			checks[name] = StatusTimeout
			continue
		default:
		}

		started := time.Now()
		err := checkers[name].CheckHealth(ctx)
		switch {
		case err == nil:
			checks[name] = StatusHealthy
		case errors.Is(err, ErrDegraded):
			checks[name] = StatusDegraded
		default:
			checks[name] = StatusUnhealthy
		}
		metrics.RecordHealthCheck(name, err == nil, time.Since(started))
	}

	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if status == StatusDegraded || status == StatusTimeout {
			degraded = true
		}
	}

	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, checks := hm.Check(checkCtx)
	if status == StatusUnhealthy {
		envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "aggregate health check failed")
		envelope = enrichHealthEnvelope(envelope, "", status, checks)
		respondWithError(w, r, envelope)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is running. It runs no checks.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EndpointStatus{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler fails when a critical dependency is unhealthy.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx, true)
	status := hm.determineOverallStatus(checks)

	if status == StatusUnhealthy {
		envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "readiness check failed")
		envelope = enrichHealthEnvelope(envelope, "ready", status, checks)
		respondWithError(w, r, envelope)
		return
	}

	writeJSON(w, http.StatusOK, EndpointStatus{Status: status, Timestamp: time.Now().UTC()})
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	started := hm.started
	hm.mu.RUnlock()

	if !started {
		envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "startup check failed")
		envelope = enrichHealthEnvelope(envelope, "startup", "starting", nil)
		respondWithError(w, r, envelope)
		return
	}

	writeJSON(w, http.StatusOK, EndpointStatus{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

func enrichHealthEnvelope(envelope *gferrors.ErrorEnvelope, endpoint, status string, checks map[string]string) *gferrors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if endpoint != "" {
		details["endpoint"] = endpoint
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if endpoint != "" {
		contextData["endpoint"] = endpoint
	}

	var unhealthy []string
	for name, result := range checks {
		if result != StatusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// httpErrorResponder writes error envelopes; the server injects its central
// handler through SetHTTPErrorResponder.
var httpErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error responder; nil restores the default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
