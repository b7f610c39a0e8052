package database

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSQLiteCounterStore_Increment(t *testing.T) {
	ctx := context.Background()

	t.Run("counts per key", func(t *testing.T) {
		store := newTestStore(t)
		counters := NewSQLiteCounterStore(store.DB(), newClock())

		for want := int64(1); want <= 3; want++ {
			got, err := counters.Increment(ctx, "tenant-a:1")
			if err != nil {
				t.Fatalf("Increment() error = %v", err)
			}
			if got != want {
				t.Errorf("Increment() = %d, want %d", got, want)
			}
		}

		got, _ := counters.Increment(ctx, "tenant-b:1")
		if got != 1 {
			t.Errorf("Increment() for another key = %d, want 1", got)
		}
	})

	t.Run("restarts after expiry", func(t *testing.T) {
		store := newTestStore(t)
		clock := newClock()
		counters := NewSQLiteCounterStore(store.DB(), clock)

		counters.Increment(ctx, "k")
		if err := counters.Expire(ctx, "k", time.Minute); err != nil {
			t.Fatalf("Expire() error = %v", err)
		}
		if got, _ := counters.Increment(ctx, "k"); got != 2 {
			t.Errorf("Increment() before expiry = %d, want 2", got)
		}

		clock.Advance(time.Minute)
		if got, _ := counters.Increment(ctx, "k"); got != 1 {
			t.Errorf("Increment() after expiry = %d, want 1", got)
		}
	})

	t.Run("concurrent increments are atomic", func(t *testing.T) {
		store := newTestStore(t)
		counters := NewSQLiteCounterStore(store.DB(), newClock())

		const n = 40
		var wg sync.WaitGroup
		results := make(chan int64, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := counters.Increment(ctx, "k")
				if err != nil {
					t.Errorf("Increment() error = %v", err)
					return
				}
				results <- got
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[int64]bool)
		for got := range results {
			if seen[got] {
				t.Errorf("count %d returned twice", got)
			}
			seen[got] = true
		}
		if len(seen) != n {
			t.Errorf("got %d distinct counts, want %d", len(seen), n)
		}
	})
}

func TestSQLiteCounterStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newClock()
	counters := NewSQLiteCounterStore(store.DB(), clock)

	counters.Increment(ctx, "old")
	counters.Expire(ctx, "old", time.Minute)
	counters.Increment(ctx, "fresh")
	counters.Expire(ctx, "fresh", time.Hour)
	counters.Increment(ctx, "forever")

	clock.Advance(2 * time.Minute)
	n, err := counters.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}

	var remaining int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM rate_windows").Scan(&remaining); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining counters = %d, want 2", remaining)
	}
}

// clock is a settable drift.Clock local to this package's tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: baseTime} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
