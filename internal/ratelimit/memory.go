package ratelimit

import (
	"context"
	"sync"
	"time"

	"drift-go/internal/drift"
)

// sweepInterval is how often MemoryCounterStore drops expired keys.
const sweepInterval = time.Minute

type counter struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore keeps counters in process memory. Safe for concurrent use.
type MemoryCounterStore struct {
	mu        sync.Mutex
	clock     drift.Clock
	counters  map[string]*counter
	nextSweep time.Time
}

var _ CounterStore = (*MemoryCounterStore)(nil)

func NewMemoryCounterStore(clock drift.Clock) *MemoryCounterStore {
	return &MemoryCounterStore{
		clock:    clock,
		counters: make(map[string]*counter),
	}
}

func (m *MemoryCounterStore) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.sweepLocked(now)

	c, ok := m.counters[key]
	if !ok || c.expired(now) {
		c = &counter{}
		m.counters[key] = c
	}
	c.count++
	return c.count, nil
}

func (m *MemoryCounterStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[key]; ok {
		c.expiresAt = m.clock.Now().Add(ttl)
	}
	return nil
}

// Len returns the number of live counters.
func (m *MemoryCounterStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for _, c := range m.counters {
		if !c.expired(now) {
			n++
		}
	}
	return n
}

func (m *MemoryCounterStore) sweepLocked(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	for k, c := range m.counters {
		if c.expired(now) {
			delete(m.counters, k)
		}
	}
	m.nextSweep = now.Add(sweepInterval)
}

func (c *counter) expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}
