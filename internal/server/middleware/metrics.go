package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/observability"
)

// HTTP metric names
const (
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_ms"
	HTTPRequestSize     = "http_request_size_bytes"
	HTTPResponseSize    = "http_response_size_bytes"
	HTTPErrorsTotal     = "http_errors_total"
)

// Paths served outside chi's pattern matching still get a bounded label.
var knownPaths = map[string]string{
	"/health":         "/health/*",
	"/health/live":    "/health/*",
	"/health/ready":   "/health/*",
	"/health/startup": "/health/*",
	"/sync/status":    "/sync/status",
	"/sync/runs":      "/sync/runs",
	"/sync/trigger":   "/sync/trigger",
	"/version":        "/version",
	"/metrics":        "/metrics",
	"/":               "/",
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

func endpointLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if label, ok := knownPaths[r.URL.Path]; ok {
		return label
	}
	return "/unknown"
}

// RequestMetrics emits request counters, latency and sizes per route pattern
// and logs each completed request. It passes through when telemetry is off.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		var requestSize int64
		if raw := r.Header.Get("Content-Length"); raw != "" {
			requestSize, _ = strconv.ParseInt(raw, 10, 64)
		}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		endpoint := endpointLabel(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		_ = sys.Counter(HTTPRequestsTotal, 1, labels)
		_ = sys.Histogram(HTTPRequestDuration, elapsed, labels)
		_ = sys.Gauge(HTTPRequestSize, float64(requestSize), sizeLabels)
		_ = sys.Gauge(HTTPResponseSize, float64(rec.bytes), sizeLabels)

		if rec.status >= http.StatusBadRequest {
			errorType := "client_error"
			if rec.status >= http.StatusInternalServerError {
				errorType = "server_error"
			}
			_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", rec.bytes),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
