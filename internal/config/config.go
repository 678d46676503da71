package config

import (
	"time"

	"github.com/catalogsync/catalogsync/internal/core"
)

// Config represents the complete application configuration. Values are
// layered as defaults, then the YAML config file, then CATALOGSYNC_*
// environment variables, then runtime overrides.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Store     StoreConfig            `mapstructure:"store"`
	Sync      SyncConfig             `mapstructure:"sync"`
	Breaker   BreakerConfig          `mapstructure:"breaker"`
	Monitor   MonitorConfig          `mapstructure:"monitor"`
	Scopes    map[string]ScopeConfig `mapstructure:"scopes"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	Telemetry TelemetryConfig        `mapstructure:"telemetry"`
	Health    HealthConfig           `mapstructure:"health"`

	// RateLimits are the shared per-class budgets, keyed by resource class.
	RateLimits      map[string]core.RateLimits `mapstructure:"rate_limits"`
	RateLimitMargin float64                    `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TriggerInterval is the minimum spacing between manual /sync/trigger
	// calls. Zero disables the throttle.
	TriggerInterval time.Duration `mapstructure:"trigger_interval"`
}

// StoreConfig contains database configuration.
//
// Driver is one of libsql (default, local file or Turso), sqlite (pure Go,
// local file) or postgres (URL is a lib/pq connection string).
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SyncConfig holds run-wide synchronization settings.
type SyncConfig struct {
	// Scopes lists account scopes in merge priority order.
	Scopes               []string       `mapstructure:"scopes"`
	ResourceClass        string         `mapstructure:"resource_class"`
	MaxPages             int            `mapstructure:"max_pages"`
	ItemsPerPage         int            `mapstructure:"items_per_page"`
	DelayBetweenRequests time.Duration  `mapstructure:"delay_between_requests"`
	RetryBaseDelay       time.Duration  `mapstructure:"retry_base_delay"`
	RetryMaxDelay        time.Duration  `mapstructure:"retry_max_delay"`
	MaxRetries           int            `mapstructure:"max_retries"`
	JitterMax            time.Duration  `mapstructure:"jitter_max"`
	Sequential           bool           `mapstructure:"sequential"`
	Filters              map[string]any `mapstructure:"filters"`

	// Interval triggers periodic runs in serve mode when > 0.
	Interval time.Duration `mapstructure:"interval"`
}

// BreakerConfig configures the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`

	// FailureWindow switches to sliding-window counting when > 0.
	FailureWindow time.Duration `mapstructure:"failure_window"`
}

// MonitorConfig configures the rolling metrics window and health thresholds.
type MonitorConfig struct {
	Window           time.Duration `mapstructure:"window"`
	MaxErrorRate     float64       `mapstructure:"max_error_rate"`
	MinSuccessRate   float64       `mapstructure:"min_success_rate"`
	MaxAvgLatencyMS  float64       `mapstructure:"max_avg_latency_ms"`
	MaxRateLimitRate float64       `mapstructure:"max_rate_limit_rate"`
}

// ScopeConfig is one marketplace account. Zero values fall back to the
// sync-wide settings.
type ScopeConfig struct {
	BaseURL              string                     `mapstructure:"base_url"`
	Username             string                     `mapstructure:"username"`
	Password             string                     `mapstructure:"password"`
	Timeout              time.Duration              `mapstructure:"timeout"`
	MaxPages             int                        `mapstructure:"max_pages"`
	ItemsPerPage         int                        `mapstructure:"items_per_page"`
	DelayBetweenRequests time.Duration              `mapstructure:"delay_between_requests"`
	RateLimits           map[string]core.RateLimits `mapstructure:"rate_limits"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}
