package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

const fallbackMetricsPort = 9090

var (
	// TelemetrySystem receives counters, gauges and histograms from the
	// HTTP middleware and the sync engine. Nil when metrics are disabled.
	TelemetrySystem *telemetry.System

	// PrometheusExporter backs TelemetrySystem and serves the scrape endpoint.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free port)
// and installs TelemetrySystem. Metric names are prefixed with namespace, or
// with serviceName when no namespace is given.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	if port < 0 {
		port = 0
	}
	metricsPort = port

	prefix := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		prefix = namespace[0]
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}
	PrometheusExporter = exporter

	switch bound, err := boundPort(exporter.GetAddr()); {
	case err == nil:
		metricsPort = bound
	case port == 0:
		metricsPort = fallbackMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the port the exporter bound to.
func GetMetricsPort() int {
	return metricsPort
}

func boundPort(addr string) (int, error) {
	_, raw, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}
