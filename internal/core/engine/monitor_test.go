package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/core"
)

func metricAt(ts time.Time, status int, latency float64) core.RequestMetric {
	return core.RequestMetric{
		Timestamp:  ts,
		Endpoint:   "/content/v2/get/cards/list",
		Method:     "POST",
		StatusCode: status,
		LatencyMS:  latency,
		Scope:      "main",
		Success:    status >= 200 && status < 300,
	}
}

func TestMonitorWindowEviction(t *testing.T) {
	clock := newFakeClock()
	monitor := NewMonitor(300*time.Second, DefaultThresholds, clock.Now)

	start := clock.Now()
	monitor.Record(metricAt(start, 200, 100))
	clock.Advance(200 * time.Second)
	monitor.Record(metricAt(clock.Now(), 200, 300))

	clock.Advance(101 * time.Second)
	snap := monitor.Metrics()
	require.Equal(t, 1, snap.Total, "the first metric is older than the window")
	require.InDelta(t, 300, snap.AvgLatencyMS, 0.001)
	require.Equal(t, float64(300), snap.WindowSeconds)
}

func TestMonitorAggregates(t *testing.T) {
	clock := newFakeClock()
	monitor := NewMonitor(0, DefaultThresholds, clock.Now)

	now := clock.Now()
	monitor.Record(metricAt(now, 200, 100))
	monitor.Record(metricAt(now, 200, 200))
	monitor.Record(metricAt(now, 429, 300))
	failed := metricAt(now, 0, 400)
	failed.ErrorCode = core.CodeTransient
	failed.Scope = "secondary"
	monitor.Record(failed)

	snap := monitor.Metrics()
	require.Equal(t, 4, snap.Total)
	require.Equal(t, 2, snap.Successful)
	require.Equal(t, 2, snap.Failed)
	require.Equal(t, 1, snap.RateLimitHits)
	require.InDelta(t, 250, snap.AvgLatencyMS, 0.001)
	require.InDelta(t, 0.5, snap.SuccessRate, 0.001)
	require.InDelta(t, 0.5, snap.ErrorRate, 0.001)
	require.Equal(t, map[string]int{"/content/v2/get/cards/list": 4}, snap.PerEndpoint)
	require.Equal(t, map[string]int{"main": 3, "secondary": 1}, snap.PerScope)
	require.Equal(t, map[string]int{"HTTP_429": 1, core.CodeTransient: 1}, snap.ErrorsByCode)
}

func TestMonitorHealthWithoutData(t *testing.T) {
	monitor := NewMonitor(time.Minute, DefaultThresholds, nil)
	report := monitor.Health()
	require.Equal(t, HealthHealthy, report.Status)
	require.Empty(t, report.Alerts)
}

func TestMonitorHealthErrorRate(t *testing.T) {
	clock := newFakeClock()
	monitor := NewMonitor(time.Minute, DefaultThresholds, clock.Now)

	now := clock.Now()
	for i := 0; i < 8; i++ {
		monitor.Record(metricAt(now, 200, 50))
	}
	monitor.Record(metricAt(now, 502, 50))
	monitor.Record(metricAt(now, 503, 50))

	report := monitor.Health()
	require.Equal(t, HealthError, report.Status)
	require.Len(t, report.Alerts, 2)
	for _, alert := range report.Alerts {
		require.Equal(t, HealthError, alert.Level)
	}
}

func TestMonitorHealthWarnings(t *testing.T) {
	clock := newFakeClock()
	monitor := NewMonitor(time.Minute, DefaultThresholds, clock.Now)

	now := clock.Now()
	for i := 0; i < 19; i++ {
		monitor.Record(metricAt(now, 200, 2500))
	}
	monitor.Record(metricAt(now, 429, 2500))
	monitor.Record(metricAt(now, 429, 2500))

	report := monitor.Health()
	require.Equal(t, HealthWarning, report.Status)
	require.Len(t, report.Alerts, 2)
	require.Equal(t, DefaultThresholds.MaxAvgLatencyMS, report.Alerts[0].Threshold)
	require.Equal(t, DefaultThresholds.MaxRateLimitRate, report.Alerts[1].Threshold)
}

func TestMonitorHealthy(t *testing.T) {
	clock := newFakeClock()
	monitor := NewMonitor(time.Minute, DefaultThresholds, clock.Now)
	for i := 0; i < 5; i++ {
		monitor.Record(metricAt(clock.Now(), 200, 120))
	}
	require.Equal(t, HealthHealthy, monitor.Health().Status)
}
