package metrics

import (
	"context"

	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/core/engine"
	"github.com/catalogsync/catalogsync/internal/observability"
)

// Sync engine metric names
const (
	RequestsWindowName    = "sync_requests_window"
	SuccessRateName       = "sync_success_rate"
	ErrorRateName         = "sync_error_rate"
	AvgLatencyName        = "sync_avg_latency_ms"
	RateLimitHitsName     = "sync_rate_limit_hits_window"
	ErrorsByCodeName      = "sync_errors_by_code_window"
	RunsTotalName         = "sync_runs_total"
	ItemsMergedName       = "sync_items_merged"
	DuplicatesRemovedName = "sync_duplicates_removed"
	ItemsPersistedName    = "sync_items_persisted"
	ScopePagesName        = "sync_scope_pages"
	ScopeStatusTotalName  = "sync_scope_status_total"
	BreakerStateName      = "sync_breaker_state"
	BreakerFailuresName   = "sync_breaker_failures"
)

// TelemetrySink exports monitor snapshots as gofulmen telemetry gauges. It is
// the engine's metrics sink in the CLI and in serve mode.
type TelemetrySink struct{}

// Export publishes the rolling-window aggregates. It is a no-op when the
// telemetry system is not initialized.
func (TelemetrySink) Export(ctx context.Context, snapshot engine.MetricsSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sys := observability.TelemetrySystem
	if sys == nil {
		return nil
	}

	if err := sys.Gauge(RequestsWindowName, float64(snapshot.Total), nil); err != nil {
		return err
	}
	_ = sys.Gauge(SuccessRateName, snapshot.SuccessRate, nil)
	_ = sys.Gauge(ErrorRateName, snapshot.ErrorRate, nil)
	_ = sys.Gauge(AvgLatencyName, snapshot.AvgLatencyMS, nil)
	_ = sys.Gauge(RateLimitHitsName, float64(snapshot.RateLimitHits), nil)

	for scope, count := range snapshot.PerScope {
		_ = sys.Gauge(RequestsWindowName, float64(count), map[string]string{"scope": scope})
	}
	for code, count := range snapshot.ErrorsByCode {
		_ = sys.Gauge(ErrorsByCodeName, float64(count), map[string]string{"error_code": code})
	}
	return nil
}

// RecordSyncRun publishes the outcome of a finished run.
func RecordSyncRun(run *core.SyncRun) {
	if run == nil || observability.TelemetrySystem == nil {
		return
	}
	sys := observability.TelemetrySystem

	_ = sys.Counter(RunsTotalName, 1, map[string]string{"status": string(run.Status)})
	_ = sys.Gauge(ItemsMergedName, float64(run.ItemsMerged), nil)
	_ = sys.Gauge(DuplicatesRemovedName, float64(run.DuplicatesRemoved), nil)
	_ = sys.Gauge(ItemsPersistedName, float64(run.Created), map[string]string{"result": string(core.UpsertCreated)})
	_ = sys.Gauge(ItemsPersistedName, float64(run.Updated), map[string]string{"result": string(core.UpsertUpdated)})

	for name, report := range run.Scopes {
		if report == nil {
			continue
		}
		_ = sys.Gauge(ScopePagesName, float64(report.PagesProcessed), map[string]string{"scope": name})
		_ = sys.Counter(ScopeStatusTotalName, 1, map[string]string{
			"scope":  name,
			"status": string(report.Status),
		})
		for _, scopeErr := range report.Errors {
			RecordScopeError(name, scopeErr.Code)
		}
	}
}

// BreakerStateValue maps breaker states onto a gauge: closed=0, half_open=1,
// open=2.
func BreakerStateValue(state engine.CircuitState) float64 {
	switch state {
	case engine.StateOpen:
		return 2
	case engine.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// RecordBreakers publishes the state of every known circuit breaker.
func RecordBreakers(snapshots []engine.BreakerSnapshot) {
	if observability.TelemetrySystem == nil {
		return
	}
	for _, snap := range snapshots {
		tags := map[string]string{"dependency": snap.Name}
		_ = observability.TelemetrySystem.Gauge(BreakerStateName, BreakerStateValue(snap.State), tags)
		_ = observability.TelemetrySystem.Gauge(BreakerFailuresName, float64(snap.FailureCount), tags)
	}
}
