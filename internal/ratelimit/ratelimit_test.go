package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift-go/internal/drift"
	"drift-go/internal/ratelimit"
	"drift-go/internal/testutil"
)

func limits(n int64) ratelimit.Limits {
	return ratelimit.Limits{Tiers: map[string]int64{"test": n}, DefaultTier: "test"}
}

func TestLimiter_Check(t *testing.T) {
	t.Run("allows up to the limit then denies", func(t *testing.T) {
		clock := testutil.FixedClock()
		l := ratelimit.New(ratelimit.NewMemoryCounterStore(clock), limits(3), drift.NewNopLogger(), clock)

		var allowed []bool
		var remaining []int64
		for range 4 {
			d := l.Check(context.Background(), "tenant-a", "test")
			allowed = append(allowed, d.Allowed)
			remaining = append(remaining, d.Remaining)
			assert.Equal(t, int64(3), d.Limit)
		}

		assert.Equal(t, []bool{true, true, true, false}, allowed)
		assert.Equal(t, []int64{2, 1, 0, 0}, remaining)
	})

	t.Run("resets at the end of the hour", func(t *testing.T) {
		clock := testutil.FixedClock()
		l := ratelimit.New(ratelimit.NewMemoryCounterStore(clock), limits(1), drift.NewNopLogger(), clock)

		first := l.Check(context.Background(), "tenant-a", "test")
		assert.True(t, first.Allowed)
		assert.Equal(t, time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC), first.ResetAt.UTC())
		assert.False(t, l.Check(context.Background(), "tenant-a", "test").Allowed)

		clock.Advance(30 * time.Minute)
		next := l.Check(context.Background(), "tenant-a", "test")
		assert.True(t, next.Allowed)
		assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), next.ResetAt.UTC())
	})

	t.Run("tenants are counted separately", func(t *testing.T) {
		clock := testutil.FixedClock()
		l := ratelimit.New(ratelimit.NewMemoryCounterStore(clock), limits(1), drift.NewNopLogger(), clock)

		assert.True(t, l.Check(context.Background(), "tenant-a", "test").Allowed)
		assert.True(t, l.Check(context.Background(), "tenant-b", "test").Allowed)
		assert.False(t, l.Check(context.Background(), "tenant-a", "test").Allowed)
	})

	t.Run("unknown tier uses the default tier", func(t *testing.T) {
		clock := testutil.FixedClock()
		l := ratelimit.New(ratelimit.NewMemoryCounterStore(clock), ratelimit.DefaultLimits(), drift.NewNopLogger(), clock)

		d := l.Check(context.Background(), "tenant-a", "platinum")
		assert.Equal(t, int64(100), d.Limit)
		assert.Equal(t, int64(99), d.Remaining)

		d = l.Check(context.Background(), "tenant-b", "enterprise")
		assert.Equal(t, int64(10000), d.Limit)
	})

	t.Run("fails open when the counter store errors", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := &stubCounterStore{incrementErr: errors.New("connection refused")}
		l := ratelimit.New(store, limits(3), drift.NewNopLogger(), clock)

		for range 5 {
			d := l.Check(context.Background(), "tenant-a", "test")
			assert.True(t, d.Allowed)
			assert.Equal(t, int64(3), d.Remaining)
		}
	})

	t.Run("sets expiry only when the window opens", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := &stubCounterStore{}
		l := ratelimit.New(store, limits(10), drift.NewNopLogger(), clock)

		for range 3 {
			l.Check(context.Background(), "tenant-a", "test")
		}

		require.Len(t, store.expired, 1)
		assert.Equal(t, ratelimit.WindowKey("tenant-a", clock.Now()), store.expired[0])
	})

	t.Run("expiry failure does not change the decision", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := &stubCounterStore{expireErr: errors.New("timeout")}
		l := ratelimit.New(store, limits(1), drift.NewNopLogger(), clock)

		assert.True(t, l.Check(context.Background(), "tenant-a", "test").Allowed)
		assert.False(t, l.Check(context.Background(), "tenant-a", "test").Allowed)
	})
}

func TestWindowKey(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "tenant-a:473698", ratelimit.WindowKey("tenant-a", at))
	assert.Equal(t, ratelimit.WindowKey("t", at), ratelimit.WindowKey("t", at.Add(29*time.Minute)))
	assert.NotEqual(t, ratelimit.WindowKey("t", at), ratelimit.WindowKey("t", at.Add(30*time.Minute)))
}

func TestMemoryCounterStore(t *testing.T) {
	t.Run("counters expire", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := ratelimit.NewMemoryCounterStore(clock)
		ctx := context.Background()

		n, err := store.Increment(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, store.Expire(ctx, "k", time.Minute))

		n, _ = store.Increment(ctx, "k")
		assert.Equal(t, int64(2), n)

		clock.Advance(time.Minute)
		assert.Equal(t, 0, store.Len())
		n, _ = store.Increment(ctx, "k")
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		store := ratelimit.NewMemoryCounterStore(testutil.FixedClock())
		ctx := context.Background()

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = store.Increment(ctx, "k")
			}()
		}
		wg.Wait()

		n, err := store.Increment(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(51), n)
	})
}

type stubCounterStore struct {
	mu           sync.Mutex
	counts       map[string]int64
	expired      []string
	incrementErr error
	expireErr    error
}

func (s *stubCounterStore) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return 0, s.incrementErr
	}
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *stubCounterStore) Expire(_ context.Context, key string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, key)
	return s.expireErr
}
