package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error codes used in metrics and scope reports.
const (
	CodeTransient   = "TRANSIENT_NETWORK"
	CodeRateLimited = "RATE_LIMITED"
	CodeCircuitOpen = "CIRCUIT_OPEN"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeAuth        = "AUTH_FAILED"
	CodeValidation  = "VALIDATION_FAILED"
	CodeCancelled   = "CANCELLED"
	CodePersistence = "PERSISTENCE_FAILED"
	CodeConfig      = "CONFIG_INVALID"
)

// TransientNetworkError is a connection, timeout or 5xx failure.
type TransientNetworkError struct {
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient network error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RateLimitExceededError is a vendor-side 429.
type RateLimitExceededError struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("vendor rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "vendor rate limit exceeded"
}

// CircuitOpenError is returned without attempting the call.
type CircuitOpenError struct {
	Name     string
	OpenedAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open", e.Name)
}

// ServiceUnavailableError wraps a failure observed by a circuit breaker.
type ServiceUnavailableError struct {
	Name string
	Err  error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %q unavailable: %v", e.Name, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// AuthError is a 401/403 from the marketplace.
type AuthError struct {
	StatusCode int
	Scope      string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for scope %q (status %d)", e.Scope, e.StatusCode)
}

// ValidationError is a malformed item in a remote response.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid item at index %d: %s", e.Index, e.Reason)
}

// ConfigError is a fatal configuration problem detected before any work.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// ErrorCode maps an error to its stable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var (
		transient   *TransientNetworkError
		rateLimited *RateLimitExceededError
		open        *CircuitOpenError
		unavailable *ServiceUnavailableError
		auth        *AuthError
		validation  *ValidationError
		cfgErr      *ConfigError
	)

	switch {
	case errors.As(err, &open):
		return CodeCircuitOpen
	case errors.As(err, &auth):
		return CodeAuth
	case errors.As(err, &rateLimited):
		return CodeRateLimited
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &cfgErr):
		return CodeConfig
	case errors.As(err, &transient):
		// Per-request timeouts surface as transient errors wrapping
		// context.DeadlineExceeded; they are not caller cancellations.
		return CodeTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.As(err, &unavailable):
		return CodeUnavailable
	default:
		return CodeUnavailable
	}
}
