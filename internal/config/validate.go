package config

import (
	"fmt"
	"strings"

	"github.com/catalogsync/catalogsync/internal/core"
)

// Validate reports the first fatal configuration problem as *core.ConfigError.
func (c *Config) Validate() error {
	if c == nil {
		return &core.ConfigError{Reason: "configuration is missing"}
	}

	if c.Breaker.FailureThreshold < 1 {
		return &core.ConfigError{Field: "breaker.failure_threshold", Reason: "must be >= 1"}
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return &core.ConfigError{Field: "breaker.recovery_timeout", Reason: "must be > 0"}
	}
	if c.Breaker.FailureWindow < 0 {
		return &core.ConfigError{Field: "breaker.failure_window", Reason: "must not be negative"}
	}

	if err := validateLimits("rate_limits", c.RateLimits); err != nil {
		return err
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		return &core.ConfigError{Field: "rate_limit_margin", Reason: "must be between 0 and 1"}
	}

	if c.Sync.MaxPages < 1 {
		return &core.ConfigError{Field: "sync.max_pages", Reason: "must be >= 1"}
	}
	if c.Sync.ItemsPerPage < 1 {
		return &core.ConfigError{Field: "sync.items_per_page", Reason: "must be >= 1"}
	}
	if c.Sync.MaxRetries < 0 {
		return &core.ConfigError{Field: "sync.max_retries", Reason: "must not be negative"}
	}
	if c.Sync.JitterMax < 0 {
		return &core.ConfigError{Field: "sync.jitter_max", Reason: "must not be negative"}
	}
	if c.Sync.DelayBetweenRequests < 0 {
		return &core.ConfigError{Field: "sync.delay_between_requests", Reason: "must not be negative"}
	}
	if c.Sync.RetryBaseDelay < 0 || c.Sync.RetryMaxDelay < 0 {
		return &core.ConfigError{Field: "sync.retry_base_delay", Reason: "retry delays must not be negative"}
	}
	if c.Sync.Interval < 0 {
		return &core.ConfigError{Field: "sync.interval", Reason: "must not be negative"}
	}
	switch core.ResourceClass(c.Sync.ResourceClass) {
	case "", core.ResourceOrders, core.ResourceCatalog, core.ResourceOther:
	default:
		return &core.ConfigError{Field: "sync.resource_class", Reason: fmt.Sprintf("unknown resource class %q", c.Sync.ResourceClass)}
	}

	if c.Monitor.Window < 0 {
		return &core.ConfigError{Field: "monitor.window", Reason: "must not be negative"}
	}

	for _, scope := range c.Sync.Scopes {
		if _, err := c.Credentials(scope); err != nil {
			return err
		}
	}

	return nil
}

func validateLimits(field string, limits map[string]core.RateLimits) error {
	for class, limit := range limits {
		if limit.PerSecond < 1 {
			return &core.ConfigError{Field: fmt.Sprintf("%s.%s.per_second", field, class), Reason: "must be >= 1"}
		}
		if limit.PerMinute < 1 {
			return &core.ConfigError{Field: fmt.Sprintf("%s.%s.per_minute", field, class), Reason: "must be >= 1"}
		}
	}
	return nil
}

// Credentials resolves connection settings for one scope. It satisfies the
// sync engine's credentials provider.
func (c *Config) Credentials(scope string) (core.ScopeCredentials, error) {
	name := strings.ToLower(strings.TrimSpace(scope))
	field := "scopes." + name

	sc, ok := c.Scopes[name]
	if !ok {
		return core.ScopeCredentials{}, &core.ConfigError{Field: field, Reason: "scope is not configured"}
	}
	if strings.TrimSpace(sc.BaseURL) == "" {
		return core.ScopeCredentials{}, &core.ConfigError{Field: field + ".base_url", Reason: "is required"}
	}
	if strings.TrimSpace(sc.Username) == "" || sc.Password == "" {
		return core.ScopeCredentials{}, &core.ConfigError{Field: field, Reason: "username and password are required"}
	}
	if err := validateLimits(field+".rate_limits", sc.RateLimits); err != nil {
		return core.ScopeCredentials{}, err
	}

	return core.ScopeCredentials{
		Scope:                name,
		BaseURL:              strings.TrimSpace(sc.BaseURL),
		Username:             strings.TrimSpace(sc.Username),
		Password:             sc.Password,
		Timeout:              sc.Timeout,
		RateLimits:           ResourceLimits(sc.RateLimits),
		MaxPages:             sc.MaxPages,
		ItemsPerPage:         sc.ItemsPerPage,
		DelayBetweenRequests: sc.DelayBetweenRequests,
	}, nil
}

// ResourceLimits converts config-keyed limits to resource classes. It returns
// nil for an empty map.
func ResourceLimits(limits map[string]core.RateLimits) map[core.ResourceClass]core.RateLimits {
	if len(limits) == 0 {
		return nil
	}
	out := make(map[core.ResourceClass]core.RateLimits, len(limits))
	for class, limit := range limits {
		out[core.ResourceClass(strings.ToLower(class))] = limit
	}
	return out
}
