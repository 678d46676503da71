package metrics

import (
	"time"

	"github.com/catalogsync/catalogsync/internal/observability"
)

// Process-level metric names
const (
	OperationsTotal       = "app_operations_total"
	OperationsErrorsTotal = "app_operations_errors_total"
	HealthCheckTotal      = "app_health_check_total"
	HealthCheckDuration   = "app_health_check_duration_ms"
	ServerStartTime       = "app_server_start_time_seconds"
	ServerUptime          = "app_server_uptime_seconds"
)

// RecordOperation counts a command-level operation such as "sync" or
// "serve.tick" by outcome.
func RecordOperation(operation string, success bool) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(OperationsTotal, 1, map[string]string{
		"operation": operation,
		"status":    outcome(success, "success", "failure"),
	})
}

// RecordOperationError counts a failed operation by error code.
func RecordOperationError(operation string, errorCode string) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(OperationsErrorsTotal, 1, map[string]string{
		"operation":  operation,
		"error_code": errorCode,
	})
}

// RecordHealthCheck records one checker execution from the health manager.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime publishes the serve start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime publishes seconds since serve started.
func SetServerUptime(seconds int64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(ServerUptime, float64(seconds), nil)
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
