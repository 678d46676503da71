package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/observability"
)

const defaultMetricsPort = 9090

var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

// Hop-by-hop headers are owned by net/http and never copied from the exporter.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// MetricsHandler serves /metrics on the API listener by forwarding the scrape
// to the local Prometheus exporter.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "metrics exporter not initialized"))
		return
	}

	target := fmt.Sprintf("http://127.0.0.1:%d/metrics", exporterPort())
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		HandleError(w, r, proxyError("INTERNAL_ERROR", "unable to build metrics request", target, err))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		HandleError(w, r, proxyError("EXTERNAL_SERVICE_ERROR", "prometheus exporter unavailable", target, err))
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to close metrics response body", zap.Error(cerr))
		}
	}()

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to write metrics response", zap.Error(err))
	}
}

func exporterPort() int {
	if port := observability.GetMetricsPort(); port > 0 {
		return port
	}
	if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port > 0 {
		return cfg.Metrics.Port
	}
	return defaultMetricsPort
}

func proxyError(code, message, target string, cause error) *errors.ErrorEnvelope {
	envelope, _ := errors.NewErrorEnvelope(code, message).WithContext(map[string]interface{}{
		"metrics_url":    target,
		"original_error": cause.Error(),
	})
	return envelope
}
