package config

import "github.com/spf13/viper"

// SetDefaults registers default configuration values on v. Every key set here
// is also reachable as CATALOGSYNC_<SECTION>_<KEY> through AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trigger_interval", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Sync defaults
	v.SetDefault("sync.scopes", []string{})
	v.SetDefault("sync.resource_class", "catalog")
	v.SetDefault("sync.max_pages", 100)
	v.SetDefault("sync.items_per_page", 100)
	v.SetDefault("sync.delay_between_requests", "1s")
	v.SetDefault("sync.retry_base_delay", "1s")
	v.SetDefault("sync.retry_max_delay", "30s")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.jitter_max", "250ms")
	v.SetDefault("sync.sequential", false)
	v.SetDefault("sync.interval", "0s")

	// Rate limit defaults per resource class
	v.SetDefault("rate_limits.orders.per_second", 5)
	v.SetDefault("rate_limits.orders.per_minute", 300)
	v.SetDefault("rate_limits.catalog.per_second", 1)
	v.SetDefault("rate_limits.catalog.per_minute", 60)
	v.SetDefault("rate_limits.other.per_second", 1)
	v.SetDefault("rate_limits.other.per_minute", 60)
	v.SetDefault("rate_limit_margin", 0.9)

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", "60s")
	v.SetDefault("breaker.failure_window", "0s")

	// Monitor defaults
	v.SetDefault("monitor.window", "300s")
	v.SetDefault("monitor.max_error_rate", 0.10)
	v.SetDefault("monitor.min_success_rate", 0.90)
	v.SetDefault("monitor.max_avg_latency_ms", 2000)
	v.SetDefault("monitor.max_rate_limit_rate", 0.05)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", AppName)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}
