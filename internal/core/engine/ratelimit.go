package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/catalogsync/catalogsync/internal/core"
)

const (
	secondWindow = time.Second
	minuteWindow = time.Minute
)

// DefaultLimits provides conservative defaults per resource class.
var DefaultLimits = map[core.ResourceClass]core.RateLimits{
	core.ResourceOrders:  {PerSecond: 5, PerMinute: 300},
	core.ResourceCatalog: {PerSecond: 1, PerMinute: 60},
	core.ResourceOther:   {PerSecond: 1, PerMinute: 60},
}

// RateLimiter admits calls so that, per resource class, no rolling one-second
// window exceeds PerSecond admissions and no rolling one-minute window exceeds
// PerMinute admissions. It is safe for concurrent use.
type RateLimiter struct {
	Limits    map[core.ResourceClass]core.RateLimits
	JitterMax time.Duration
	Margin    float64
	Clock     func() time.Time
	// Sleep blocks for d or until ctx is done. Defaults to a timer select.
	Sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	windows map[core.ResourceClass]*rateWindow
}

type rateWindow struct {
	second       []time.Time
	minute       []time.Time
	backoffUntil time.Time
}

// NewRateLimiter validates limits and returns a limiter.
func NewRateLimiter(limits map[core.ResourceClass]core.RateLimits, jitterMax time.Duration) (*RateLimiter, error) {
	for class, limit := range limits {
		if limit.PerSecond < 1 {
			return nil, &core.ConfigError{Field: fmt.Sprintf("rate_limits.%s.per_second", class), Reason: "must be >= 1"}
		}
		if limit.PerMinute < 1 {
			return nil, &core.ConfigError{Field: fmt.Sprintf("rate_limits.%s.per_minute", class), Reason: "must be >= 1"}
		}
	}
	if jitterMax < 0 {
		return nil, &core.ConfigError{Field: "sync.jitter_max", Reason: "must not be negative"}
	}
	return &RateLimiter{Limits: limits, JitterMax: jitterMax}, nil
}

// Acquire blocks until a call of the given class is admitted or ctx is done.
// The admission timestamp is registered only when the call is admitted.
func (r *RateLimiter) Acquire(ctx context.Context, class core.ResourceClass) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := r.tryAdmit(class)
		if wait <= 0 {
			return nil
		}

		if err := r.sleep(ctx, wait+r.jitter()); err != nil {
			return err
		}
	}
}

// Penalize blocks admissions for class until now+d, e.g. from a vendor Retry-After.
func (r *RateLimiter) Penalize(class core.ResourceClass, d time.Duration) {
	if r == nil || d <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.window(class)
	until := r.now().Add(d)
	if until.After(w.backoffUntil) {
		w.backoffUntil = until
	}
}

// Usage reports current admissions in the one-second and one-minute windows.
func (r *RateLimiter) Usage(class core.ResourceClass) (perSecond int, perMinute int) {
	if r == nil {
		return 0, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.window(class)
	r.evict(w, r.now())
	return len(w.second), len(w.minute)
}

// ApplySafetyMargin adjusts the effective request limits by a ratio (0-1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.mu.Lock()
	r.Margin = margin
	r.mu.Unlock()
}

// tryAdmit admits the call and returns zero, or returns how long to wait.
func (r *RateLimiter) tryAdmit(class core.ResourceClass) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.window(class)

	if now.Before(w.backoffUntil) {
		return w.backoffUntil.Sub(now)
	}

	r.evict(w, now)
	limit := r.getLimit(class)

	secondFull := len(w.second) >= limit.PerSecond
	minuteFull := len(w.minute) >= limit.PerMinute
	if !secondFull && !minuteFull {
		w.second = append(w.second, now)
		w.minute = append(w.minute, now)
		return 0
	}

	var wait time.Duration
	if secondFull {
		wait = w.second[len(w.second)-limit.PerSecond].Add(secondWindow).Sub(now)
	}
	if minuteFull {
		if d := w.minute[len(w.minute)-limit.PerMinute].Add(minuteWindow).Sub(now); d > wait {
			wait = d
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (r *RateLimiter) evict(w *rateWindow, now time.Time) {
	w.second = evictBefore(w.second, now.Add(-secondWindow))
	w.minute = evictBefore(w.minute, now.Add(-minuteWindow))
}

// evictBefore drops timestamps at or before cutoff. Timestamps are ordered.
func evictBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[idx:]...)
}

func (r *RateLimiter) window(class core.ResourceClass) *rateWindow {
	if r.windows == nil {
		r.windows = make(map[core.ResourceClass]*rateWindow)
	}
	w, ok := r.windows[class]
	if !ok {
		w = &rateWindow{}
		r.windows[class] = w
	}
	return w
}

func (r *RateLimiter) getLimit(class core.ResourceClass) core.RateLimits {
	limits := r.Limits
	if limits == nil {
		limits = DefaultLimits
	}

	if limit, ok := limits[class]; ok {
		return r.applyMargin(limit)
	}
	if limit, ok := limits[core.ResourceOther]; ok {
		return r.applyMargin(limit)
	}
	return r.applyMargin(DefaultLimits[core.ResourceOther])
}

func (r *RateLimiter) applyMargin(limit core.RateLimits) core.RateLimits {
	if r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	limit.PerSecond = scaleLimit(limit.PerSecond, r.Margin)
	limit.PerMinute = scaleLimit(limit.PerMinute, r.Margin)
	return limit
}

func scaleLimit(value int, margin float64) int {
	adjusted := int(math.Floor(float64(value) * margin))
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}

func (r *RateLimiter) jitter() time.Duration {
	if r.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(r.JitterMax) + 1))
}

func (r *RateLimiter) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (r *RateLimiter) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// sleepContext waits for d unless ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
