package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/catalogsync/catalogsync/internal/core"
)

// CircuitState is the breaker state.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// BreakerConfig controls thresholds for state transitions.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// FailureWindow enables sliding-window counting when > 0; failures older
	// than the window are forgotten. Zero counts consecutive failures.
	FailureWindow time.Duration
}

// BreakerSnapshot is a point-in-time view of a breaker, safe to serialize.
type BreakerSnapshot struct {
	Name             string        `json:"name"`
	State            CircuitState  `json:"state"`
	FailureCount     int           `json:"failure_count"`
	OpenedAt         *time.Time    `json:"opened_at,omitempty"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// CircuitBreaker fails fast while a remote dependency is unhealthy.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	clock  func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures []time.Time
	openedAt time.Time
	// trial is set while the single half-open call is in flight.
	trial bool
}

// NewCircuitBreaker validates config and returns a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, clock func() time.Time) (*CircuitBreaker, error) {
	if cfg.FailureThreshold < 1 {
		return nil, &core.ConfigError{Field: "breaker.failure_threshold", Reason: "must be >= 1"}
	}
	if cfg.RecoveryTimeout <= 0 {
		return nil, &core.ConfigError{Field: "breaker.recovery_timeout", Reason: "must be > 0"}
	}
	if cfg.FailureWindow < 0 {
		return nil, &core.ConfigError{Field: "breaker.failure_window", Reason: "must not be negative"}
	}
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{name: name, config: cfg, clock: clock, state: StateClosed}, nil
}

// Name returns the dependency name guarded by the breaker.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State reports the current state. Open becomes half-open lazily once the
// recovery timeout has elapsed.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.clock())
}

// FailureCount reports the failures currently counted toward the threshold.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireFailures(b.clock())
	return len(b.failures)
}

// Snapshot returns the breaker's current state.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.expireFailures(now)
	snap := BreakerSnapshot{
		Name:             b.name,
		State:            b.currentState(now),
		FailureCount:     len(b.failures),
		FailureThreshold: b.config.FailureThreshold,
		RecoveryTimeout:  b.config.RecoveryTimeout,
	}
	if !b.openedAt.IsZero() && snap.State != StateClosed {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

// Call invokes fn unless the breaker is open. In half-open exactly one call
// is admitted as the trial; concurrent callers fail fast until it finishes.
// A failure from fn is recorded and returned wrapped in
// *core.ServiceUnavailableError. Errors for which countsAsFailure is false
// pass through untouched and leave state unchanged.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	state := b.currentState(b.clock())
	if state == StateOpen || (state == StateHalfOpen && b.trial) {
		openedAt := b.openedAt
		b.mu.Unlock()
		return &core.CircuitOpenError{Name: b.name, OpenedAt: openedAt}
	}
	isTrial := state == StateHalfOpen
	if isTrial {
		b.trial = true
	}
	b.mu.Unlock()

	err := fn(ctx)
	if err == nil {
		b.RecordSuccess()
		return nil
	}
	if !countsAsFailure(ctx, err) {
		if isTrial {
			b.mu.Lock()
			b.trial = false
			b.mu.Unlock()
		}
		return err
	}

	b.RecordFailure()
	return &core.ServiceUnavailableError{Name: b.name, Err: err}
}

// RecordSuccess closes a half-open breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	switch b.currentState(b.clock()) {
	case StateHalfOpen:
		b.transitionClosed()
	case StateClosed:
		if b.config.FailureWindow == 0 {
			b.failures = b.failures[:0]
		}
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold. In
// half-open a failure re-opens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.trial = false
	switch b.currentState(now) {
	case StateOpen:
		return
	case StateHalfOpen:
		b.failures = append(b.failures[:0], now)
		b.state = StateOpen
		b.openedAt = now
		return
	}

	b.expireFailures(now)
	b.failures = append(b.failures, now)
	if len(b.failures) >= b.config.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionClosed()
}

func (b *CircuitBreaker) transitionClosed() {
	b.state = StateClosed
	b.failures = b.failures[:0]
	b.openedAt = time.Time{}
	b.trial = false
}

// currentState must be called with mu held.
func (b *CircuitBreaker) currentState(now time.Time) CircuitState {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.config.RecoveryTimeout)) {
		return StateHalfOpen
	}
	return b.state
}

func (b *CircuitBreaker) expireFailures(now time.Time) {
	if b.config.FailureWindow <= 0 || b.state != StateClosed {
		return
	}
	b.failures = evictBefore(b.failures, now.Add(-b.config.FailureWindow))
}

// countsAsFailure excludes caller cancellation, vendor throttling, rejected
// credentials and malformed payloads from breaker accounting.
func countsAsFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}

	var (
		rateLimited *core.RateLimitExceededError
		validation  *core.ValidationError
		auth        *core.AuthError
	)
	if errors.As(err, &rateLimited) || errors.As(err, &validation) || errors.As(err, &auth) {
		return false
	}
	return true
}

// BreakerRegistry hands out one breaker per dependency name.
type BreakerRegistry struct {
	config BreakerConfig
	clock  func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry validates config eagerly so misconfiguration fails at startup.
func NewBreakerRegistry(cfg BreakerConfig, clock func() time.Time) (*BreakerRegistry, error) {
	if _, err := NewCircuitBreaker("validate", cfg, clock); err != nil {
		return nil, err
	}
	return &BreakerRegistry{config: cfg, clock: clock, breakers: make(map[string]*CircuitBreaker)}, nil
}

// Get returns the breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	// Config was validated in NewBreakerRegistry.
	b, _ := NewCircuitBreaker(name, r.config, r.clock)
	r.breakers[name] = b
	return b
}

// Snapshots returns all breakers ordered by name.
func (r *BreakerRegistry) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
