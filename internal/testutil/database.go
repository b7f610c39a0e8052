package testutil

import (
	"context"
	"testing"
	"time"

	"drift-go/internal/canonical"
	"drift-go/internal/database"
	"drift-go/internal/drift"
)

// NewTestStore creates a new in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedSnapshot stores a snapshot of Endpoint with the given id, timestamp
// and JSON object body.
func SeedSnapshot(t *testing.T, store drift.Store, id string, ts time.Time, body string) *drift.Snapshot {
	t.Helper()

	data := Object(t, body)
	raw, err := canonical.Marshal(data)
	if err != nil {
		t.Fatalf("canonicalizing %s: %v", body, err)
	}
	s := &drift.Snapshot{
		ID:          id,
		EndpointID:  Endpoint,
		Timestamp:   ts.UTC().Truncate(time.Millisecond),
		Data:        data,
		ContentHash: canonical.HashBytes(raw),
		SizeBytes:   int64(len(raw)),
		Source:      drift.SourceSDK,
	}
	if err := store.CreateSnapshot(context.Background(), s); err != nil {
		t.Fatalf("seeding snapshot %s: %v", id, err)
	}
	return s
}
