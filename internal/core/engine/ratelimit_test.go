package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/core"
)

func TestRateLimiterAdmitsWithinQuota(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Limits: map[core.ResourceClass]core.RateLimits{
			core.ResourceCatalog: {PerSecond: 3, PerMinute: 100},
		},
		Clock: clock.Now,
		Sleep: clock.Sleep,
	}

	start := clock.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(context.Background(), core.ResourceCatalog))
	}
	require.Equal(t, start, clock.Now(), "first calls should not wait")

	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceCatalog))
	require.Equal(t, start.Add(time.Second), clock.Now())

	perSecond, perMinute := limiter.Usage(core.ResourceCatalog)
	require.Equal(t, 1, perSecond)
	require.Equal(t, 4, perMinute)
}

func TestRateLimiterMinuteWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Limits: map[core.ResourceClass]core.RateLimits{
			core.ResourceOrders: {PerSecond: 10, PerMinute: 2},
		},
		Clock: clock.Now,
		Sleep: clock.Sleep,
	}

	start := clock.Now()
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceOrders))
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceOrders))
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceOrders))
	require.Equal(t, start.Add(time.Minute), clock.Now())
}

func TestRateLimiterNeverExceedsWindowsUnderConcurrency(t *testing.T) {
	limits := core.RateLimits{PerSecond: 5, PerMinute: 100}
	limiter := &RateLimiter{
		Limits:    map[core.ResourceClass]core.RateLimits{core.ResourceCatalog: limits},
		JitterMax: 5 * time.Millisecond,
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Acquire(context.Background(), core.ResourceCatalog))
		}()
	}
	wg.Wait()

	limiter.mu.Lock()
	stamps := append([]time.Time(nil), limiter.windows[core.ResourceCatalog].minute...)
	limiter.mu.Unlock()

	require.Len(t, stamps, 12)
	for i := 0; i+limits.PerSecond < len(stamps); i++ {
		gap := stamps[i+limits.PerSecond].Sub(stamps[i])
		require.GreaterOrEqual(t, gap, time.Second, "more than %d admissions inside one second", limits.PerSecond)
	}
}

func TestRateLimiterClassesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Limits: map[core.ResourceClass]core.RateLimits{
			core.ResourceCatalog: {PerSecond: 1, PerMinute: 60},
			core.ResourceOrders:  {PerSecond: 1, PerMinute: 60},
		},
		Clock: clock.Now,
		Sleep: clock.Sleep,
	}

	start := clock.Now()
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceCatalog))
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceOrders))
	require.Equal(t, start, clock.Now())
}

func TestRateLimiterCancelledWait(t *testing.T) {
	limiter := &RateLimiter{
		Limits: map[core.ResourceClass]core.RateLimits{
			core.ResourceCatalog: {PerSecond: 1, PerMinute: 1},
		},
	}
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceCatalog))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx, core.ResourceCatalog)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, perMinute := limiter.Usage(core.ResourceCatalog)
	require.Equal(t, 1, perMinute, "a cancelled wait must not register a timestamp")
}

func TestRateLimiterPenalize(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{Clock: clock.Now, Sleep: clock.Sleep}

	start := clock.Now()
	limiter.Penalize(core.ResourceCatalog, 5*time.Second)
	require.NoError(t, limiter.Acquire(context.Background(), core.ResourceCatalog))
	require.Equal(t, start.Add(5*time.Second), clock.Now())
}

func TestRateLimiterSafetyMargin(t *testing.T) {
	limiter := &RateLimiter{
		Limits: map[core.ResourceClass]core.RateLimits{
			core.ResourceOrders: {PerSecond: 10, PerMinute: 300},
		},
	}
	limiter.ApplySafetyMargin(0.5)
	require.Equal(t, core.RateLimits{PerSecond: 5, PerMinute: 150}, limiter.getLimit(core.ResourceOrders))

	limiter.ApplySafetyMargin(0.01)
	require.Equal(t, core.RateLimits{PerSecond: 1, PerMinute: 3}, limiter.getLimit(core.ResourceOrders))
}

func TestRateLimiterUnknownClassFallsBackToOther(t *testing.T) {
	limiter := &RateLimiter{
		Limits: map[core.ResourceClass]core.RateLimits{
			core.ResourceOther: {PerSecond: 7, PerMinute: 70},
		},
	}
	require.Equal(t, core.RateLimits{PerSecond: 7, PerMinute: 70}, limiter.getLimit("reports"))
}

func TestNewRateLimiterValidates(t *testing.T) {
	_, err := NewRateLimiter(map[core.ResourceClass]core.RateLimits{
		core.ResourceCatalog: {PerSecond: 0, PerMinute: 10},
	}, 0)
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "rate_limits.catalog.per_second", cfgErr.Field)

	_, err = NewRateLimiter(nil, -time.Second)
	require.ErrorAs(t, err, &cfgErr)

	limiter, err := NewRateLimiter(DefaultLimits, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, limiter.JitterMax)
}
