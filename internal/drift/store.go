package drift

import (
	"context"
	"time"
)

// Store persists snapshots and deltas. Lookups that find nothing return
// (nil, nil); every other failure is returned as an error.
type Store interface {
	// GetLatestSnapshot returns the most recent snapshot of an endpoint.
	GetLatestSnapshot(ctx context.Context, endpointID string) (*Snapshot, error)

	// CreateSnapshot inserts a new snapshot.
	CreateSnapshot(ctx context.Context, snapshot *Snapshot) error

	// GetSnapshot returns a snapshot by id, scoped to its endpoint.
	GetSnapshot(ctx context.Context, endpointID, id string) (*Snapshot, error)

	// CreateDelta inserts a delta unless one already exists for the same
	// (from, to) pair, and returns the stored row either way.
	CreateDelta(ctx context.Context, delta *Delta) (*Delta, error)

	// GetDeltaForPair returns the delta between two snapshots.
	GetDeltaForPair(ctx context.Context, fromID, toID string) (*Delta, error)

	// ListSnapshots returns up to limit snapshots of an endpoint, newest first.
	ListSnapshots(ctx context.Context, endpointID string, limit int) ([]*Snapshot, error)

	// ListDeltas returns up to limit deltas of an endpoint, newest first.
	ListDeltas(ctx context.Context, endpointID string, limit int) ([]*Delta, error)

	// ListUnarchivedSnapshots returns up to limit snapshots not yet exported
	// to the archive, oldest first.
	ListUnarchivedSnapshots(ctx context.Context, limit int) ([]*Snapshot, error)

	// MarkSnapshotArchived records that a snapshot's payload was exported.
	MarkSnapshotArchived(ctx context.Context, id string, at time.Time) error

	Close() error
}

// Queue accepts delta jobs for asynchronous processing.
type Queue interface {
	Enqueue(ctx context.Context, job DeltaJob) error
}

// RateLimiter decides whether a tenant may make another request. It never
// fails: implementations degrade to allowing the request.
type RateLimiter interface {
	Check(ctx context.Context, tenantKey, tier string) Decision
}
