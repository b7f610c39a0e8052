package testutil

import (
	"context"
	"sync"
	"time"

	"drift-go/internal/drift"
)

// FaultyStore wraps a drift.Store and fails selected operations. Fail
// counters are decremented on each injected failure; a negative count fails
// forever.
type FaultyStore struct {
	drift.Store

	mu    sync.Mutex
	fails map[string]int
	err   error
	calls map[string]int
}

func NewFaultyStore(inner drift.Store, err error) *FaultyStore {
	return &FaultyStore{Store: inner, err: err, fails: map[string]int{}, calls: map[string]int{}}
}

// FailNext makes the next n calls of op fail. Use n < 0 to fail every call.
func (s *FaultyStore) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] = n
}

// Calls returns how many times op was invoked.
func (s *FaultyStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultyStore) inject(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	n := s.fails[op]
	switch {
	case n == 0:
		return nil
	case n > 0:
		s.fails[op] = n - 1
	}
	return s.err
}

func (s *FaultyStore) GetLatestSnapshot(ctx context.Context, endpointID string) (*drift.Snapshot, error) {
	if err := s.inject("GetLatestSnapshot"); err != nil {
		return nil, err
	}
	return s.Store.GetLatestSnapshot(ctx, endpointID)
}

func (s *FaultyStore) CreateSnapshot(ctx context.Context, snapshot *drift.Snapshot) error {
	if err := s.inject("CreateSnapshot"); err != nil {
		return err
	}
	return s.Store.CreateSnapshot(ctx, snapshot)
}

func (s *FaultyStore) GetSnapshot(ctx context.Context, endpointID, id string) (*drift.Snapshot, error) {
	if err := s.inject("GetSnapshot"); err != nil {
		return nil, err
	}
	return s.Store.GetSnapshot(ctx, endpointID, id)
}

func (s *FaultyStore) CreateDelta(ctx context.Context, delta *drift.Delta) (*drift.Delta, error) {
	if err := s.inject("CreateDelta"); err != nil {
		return nil, err
	}
	return s.Store.CreateDelta(ctx, delta)
}

func (s *FaultyStore) MarkSnapshotArchived(ctx context.Context, id string, at time.Time) error {
	if err := s.inject("MarkSnapshotArchived"); err != nil {
		return err
	}
	return s.Store.MarkSnapshotArchived(ctx, id, at)
}

// RecordingQueue is an in-memory drift.Queue that records enqueued jobs.
type RecordingQueue struct {
	mu   sync.Mutex
	jobs []drift.DeltaJob
	Err  error
}

func (q *RecordingQueue) Enqueue(_ context.Context, job drift.DeltaJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// Jobs returns a copy of the enqueued jobs.
func (q *RecordingQueue) Jobs() []drift.DeltaJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]drift.DeltaJob(nil), q.jobs...)
}

// StaticLimiter returns the same decision for every request.
type StaticLimiter struct {
	Decision drift.Decision
}

func (l StaticLimiter) Check(context.Context, string, string) drift.Decision {
	return l.Decision
}

// LogEntry is one message captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger captures log messages for assertions.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// Messages returns the messages logged at level, in order.
func (l *RecordingLogger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}
