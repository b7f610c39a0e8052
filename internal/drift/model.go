package drift

import (
	"fmt"
	"time"

	"drift-go/internal/jsondiff"
)

// Source records how a snapshot reached the system.
type Source string

const (
	SourceSDK     Source = "sdk"
	SourceWebhook Source = "webhook"
	SourcePolling Source = "polling"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceSDK, SourceWebhook, SourcePolling:
		return true
	}
	return false
}

// ParseSource converts a string to a Source.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown source %q (want sdk, webhook or polling)", s)
	}
	return src, nil
}

// Snapshot is one captured JSON document of an endpoint. Snapshots are never
// modified after creation; ArchivedAt only records a later export.
type Snapshot struct {
	ID          string         `json:"id"`
	EndpointID  string         `json:"endpoint_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
	ContentHash string         `json:"content_hash"`
	SizeBytes   int64          `json:"size_bytes"`
	Source      Source         `json:"source"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
}

// Delta is the structural difference between two consecutive snapshots of
// the same endpoint. At most one Delta exists per (from, to) pair.
type Delta struct {
	ID              string               `json:"id"`
	EndpointID      string               `json:"endpoint_id"`
	FromSnapshotID  string               `json:"from_snapshot_id"`
	ToSnapshotID    string               `json:"to_snapshot_id"`
	Timestamp       time.Time            `json:"timestamp"`
	Operations      []jsondiff.Operation `json:"operations"`
	ChangesCount    int                  `json:"changes_count"`
	Additions       int                  `json:"additions"`
	Deletions       int                  `json:"deletions"`
	Modifications   int                  `json:"modifications"`
	SimilarityScore float64              `json:"similarity_score"`
}

// DeltaJob asks the delta worker to diff PreviousSnapshotID against SnapshotID.
type DeltaJob struct {
	SnapshotID         string `json:"snapshot_id"`
	PreviousSnapshotID string `json:"previous_snapshot_id"`
	EndpointID         string `json:"endpoint_id"`
}

// IngestRequest carries one snapshot submission. Data and Metadata are raw
// JSON; Metadata may be empty.
type IngestRequest struct {
	TenantKey  string
	Tier       string
	EndpointID string
	Data       []byte
	Source     string
	Metadata   []byte
}

// IngestionResult is the outcome of a successful Ingest call.
type IngestionResult struct {
	Snapshot       *Snapshot `json:"snapshot"`
	IsDuplicate    bool      `json:"is_duplicate"`
	QueuedForDelta bool      `json:"queued_for_delta"`
	// RateLimit is the limiter decision for this request, nil when no
	// limiter is configured.
	RateLimit *Decision `json:"-"`
}

// SnapshotRef identifies a snapshot in comparison output.
type SnapshotRef struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
}

// DiffResult is an on-demand comparison of two snapshots.
type DiffResult struct {
	EndpointID      string               `json:"endpoint_id"`
	From            SnapshotRef          `json:"from"`
	To              SnapshotRef          `json:"to"`
	Operations      []jsondiff.Operation `json:"operations"`
	Summary         jsondiff.Summary     `json:"summary"`
	SimilarityScore float64              `json:"similarity_score"`
}

// Decision is the rate limiter's verdict for one request.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Compare diffs two snapshots. It does not touch storage.
func Compare(from, to *Snapshot) *DiffResult {
	var a, b any = from.Data, to.Data
	ops := jsondiff.Diff(a, b)
	return &DiffResult{
		EndpointID:      to.EndpointID,
		From:            SnapshotRef{ID: from.ID, Timestamp: from.Timestamp, ContentHash: from.ContentHash},
		To:              SnapshotRef{ID: to.ID, Timestamp: to.Timestamp, ContentHash: to.ContentHash},
		Operations:      ops,
		Summary:         jsondiff.Categorize(ops),
		SimilarityScore: jsondiff.Similarity(a, b),
	}
}
