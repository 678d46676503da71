package metrics

import (
	"strconv"

	"github.com/catalogsync/catalogsync/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
	ScopeErrorsTotalName = "scope_errors_total"
)

// RecordError counts an HTTP error response by envelope code and status.
func RecordError(errorCode string, httpStatus int) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(ErrorsTotalName, 1, map[string]string{
			"error_code":  errorCode,
			"http_status": strconv.Itoa(httpStatus),
		})
	}
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(PanicsTotalName, 1, nil)
	}
}

// RecordErrorByEndpoint counts an error response by request path.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(ErrorsByEndpointName, 1, map[string]string{
			"endpoint":   endpoint,
			"error_code": errorCode,
		})
	}
}

// RecordScopeError counts one error annotated on a scope report.
func RecordScopeError(scope string, errorCode string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(ScopeErrorsTotalName, 1, map[string]string{
			"scope":      scope,
			"error_code": errorCode,
		})
	}
}
