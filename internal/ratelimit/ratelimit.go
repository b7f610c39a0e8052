// Package ratelimit implements a fixed-window request governor keyed by
// tenant. Each wall-clock hour is one window; a tenant's tier decides how
// many requests it may make per window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"drift-go/internal/drift"
	"drift-go/internal/metrics"
)

// Window is the length of one rate limit window.
const Window = time.Hour

// CounterStore holds per-window request counters.
type CounterStore interface {
	// Increment atomically adds one to key, creating it at zero first if
	// needed, and returns the new count.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire schedules key for deletion after ttl.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Limits maps tier names to the number of requests allowed per window.
type Limits struct {
	Tiers       map[string]int64
	DefaultTier string
}

// DefaultLimits returns the built-in tiers.
func DefaultLimits() Limits {
	return Limits{
		Tiers: map[string]int64{
			"free":       100,
			"pro":        1000,
			"enterprise": 10000,
		},
		DefaultTier: "free",
	}
}

// For returns the limit of tier, falling back to the default tier for
// unknown or empty names.
func (l Limits) For(tier string) int64 {
	if n, ok := l.Tiers[tier]; ok {
		return n
	}
	return l.Tiers[l.DefaultTier]
}

// Limiter checks and counts requests against a CounterStore.
type Limiter struct {
	store  CounterStore
	limits Limits
	logger drift.Logger
	clock  drift.Clock
}

var _ drift.RateLimiter = (*Limiter)(nil)

func New(store CounterStore, limits Limits, logger drift.Logger, clock drift.Clock) *Limiter {
	return &Limiter{
		store:  store,
		limits: limits,
		logger: logger,
		clock:  clock,
	}
}

// WindowKey returns the counter key for tenantKey in the window containing now.
func WindowKey(tenantKey string, now time.Time) string {
	return fmt.Sprintf("%s:%d", tenantKey, now.Unix()/int64(Window/time.Second))
}

// Check counts one request for tenantKey and reports whether it is allowed.
//
// If the counter store fails, the request is allowed with the full limit
// remaining. A failure to set the expiry is logged and otherwise ignored.
func (l *Limiter) Check(ctx context.Context, tenantKey, tier string) drift.Decision {
	now := l.clock.Now()
	limit := l.limits.For(tier)
	resetAt := now.Truncate(Window).Add(Window)
	key := WindowKey(tenantKey, now)

	count, err := l.store.Increment(ctx, key)
	if err != nil {
		metrics.RateLimitFailOpen.Inc()
		l.logger.Warn("rate limit counter unavailable, allowing request", "tenant", tenantKey, "error", err)
		return drift.Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, Window); err != nil {
			l.logger.Warn("setting rate limit window expiry", "key", key, "error", err)
		}
	}

	return drift.Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(0, limit-count),
		ResetAt:   resetAt,
	}
}
