package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/catalogsync/catalogsync/internal/core"
)

// HealthStatus is the derived health of the remote dependency.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// MonitorThresholds configures when Health reports warnings and errors.
type MonitorThresholds struct {
	MaxErrorRate     float64
	MinSuccessRate   float64
	MaxAvgLatencyMS  float64
	MaxRateLimitRate float64
}

// DefaultThresholds mirrors typical marketplace SLOs.
var DefaultThresholds = MonitorThresholds{
	MaxErrorRate:     0.10,
	MinSuccessRate:   0.90,
	MaxAvgLatencyMS:  2000,
	MaxRateLimitRate: 0.05,
}

// MetricsSnapshot aggregates the metrics currently inside the window.
type MetricsSnapshot struct {
	WindowSeconds float64        `json:"window_seconds"`
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	Failed        int            `json:"failed"`
	RateLimitHits int            `json:"rate_limit_hits"`
	AvgLatencyMS  float64        `json:"avg_latency_ms"`
	SuccessRate   float64        `json:"success_rate"`
	ErrorRate     float64        `json:"error_rate"`
	PerEndpoint   map[string]int `json:"per_endpoint_counts"`
	PerScope      map[string]int `json:"per_scope_counts"`
	ErrorsByCode  map[string]int `json:"errors_by_code"`
	CollectedAt   time.Time      `json:"collected_at"`
}

// Alert is a threshold breach. Alerts are reported, never raised.
type Alert struct {
	Level     HealthStatus `json:"level"`
	Message   string       `json:"message"`
	Threshold float64      `json:"threshold"`
}

// HealthReport is the derived health plus the alerts that produced it.
type HealthReport struct {
	Status HealthStatus `json:"status"`
	Alerts []Alert      `json:"alerts"`
}

// Monitor keeps request metrics for a rolling window and derives health.
type Monitor struct {
	window     time.Duration
	thresholds MonitorThresholds
	clock      func() time.Time

	mu      sync.Mutex
	metrics []core.RequestMetric
}

// NewMonitor returns a collector with the given window (300s when zero).
func NewMonitor(window time.Duration, thresholds MonitorThresholds, clock func() time.Time) *Monitor {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{window: window, thresholds: thresholds, clock: clock}
}

// Record appends a metric and evicts entries older than the window.
func (m *Monitor) Record(metric core.RequestMetric) {
	if m == nil {
		return
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = m.clock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics = append(m.metrics, metric)
	m.evict(m.clock())
}

// Metrics computes aggregates from the current window.
func (m *Monitor) Metrics() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}

	now := m.clock()
	window := m.snapshot(now)

	snap := MetricsSnapshot{
		WindowSeconds: m.window.Seconds(),
		PerEndpoint:   make(map[string]int),
		PerScope:      make(map[string]int),
		ErrorsByCode:  make(map[string]int),
		CollectedAt:   now,
	}

	var latency float64
	for _, metric := range window {
		snap.Total++
		latency += metric.LatencyMS
		snap.PerEndpoint[metric.Endpoint]++
		if metric.Scope != "" {
			snap.PerScope[metric.Scope]++
		}
		if metric.Success {
			snap.Successful++
		} else {
			snap.Failed++
			code := metric.ErrorCode
			if code == "" {
				code = fmt.Sprintf("HTTP_%d", metric.StatusCode)
			}
			snap.ErrorsByCode[code]++
		}
		if metric.StatusCode == 429 || metric.ErrorCode == core.CodeRateLimited {
			snap.RateLimitHits++
		}
	}

	if snap.Total > 0 {
		total := float64(snap.Total)
		snap.AvgLatencyMS = latency / total
		snap.SuccessRate = float64(snap.Successful) / total
		snap.ErrorRate = float64(snap.Failed) / total
	}

	return snap
}

// Health derives a status and alerts from the current metrics.
func (m *Monitor) Health() HealthReport {
	report := HealthReport{Status: HealthHealthy, Alerts: []Alert{}}
	if m == nil {
		return report
	}

	snap := m.Metrics()
	if snap.Total == 0 {
		return report
	}

	t := m.thresholds
	raise := func(level HealthStatus, threshold float64, format string, args ...any) {
		report.Alerts = append(report.Alerts, Alert{Level: level, Message: fmt.Sprintf(format, args...), Threshold: threshold})
		if level == HealthError || report.Status == HealthHealthy {
			report.Status = level
		}
	}

	if t.MaxErrorRate > 0 && snap.ErrorRate > t.MaxErrorRate {
		raise(HealthError, t.MaxErrorRate, "error rate %.2f%% exceeds %.2f%%", snap.ErrorRate*100, t.MaxErrorRate*100)
	}
	if t.MinSuccessRate > 0 && snap.SuccessRate < t.MinSuccessRate {
		raise(HealthError, t.MinSuccessRate, "success rate %.2f%% below %.2f%%", snap.SuccessRate*100, t.MinSuccessRate*100)
	}
	if t.MaxAvgLatencyMS > 0 && snap.AvgLatencyMS > t.MaxAvgLatencyMS {
		raise(HealthWarning, t.MaxAvgLatencyMS, "average latency %.0fms exceeds %.0fms", snap.AvgLatencyMS, t.MaxAvgLatencyMS)
	}
	rateLimitRatio := float64(snap.RateLimitHits) / float64(snap.Total)
	if t.MaxRateLimitRate > 0 && rateLimitRatio > t.MaxRateLimitRate {
		raise(HealthWarning, t.MaxRateLimitRate, "rate limit hit ratio %.2f%% exceeds %.2f%%", rateLimitRatio*100, t.MaxRateLimitRate*100)
	}

	return report
}

// snapshot copies the metrics still inside the window as of now.
func (m *Monitor) snapshot(now time.Time) []core.RequestMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evict(now)
	out := make([]core.RequestMetric, len(m.metrics))
	copy(out, m.metrics)
	return out
}

// evict must be called with mu held. A metric recorded at t is dropped once
// now is past t+window.
func (m *Monitor) evict(now time.Time) {
	cutoff := now.Add(-m.window)
	kept := m.metrics[:0]
	for _, metric := range m.metrics {
		if !metric.Timestamp.Before(cutoff) {
			kept = append(kept, metric)
		}
	}
	m.metrics = kept
}
