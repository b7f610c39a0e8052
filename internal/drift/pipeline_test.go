package drift_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift-go/internal/database"
	"drift-go/internal/drift"
	"drift-go/internal/testutil"
)

type pipelineFixture struct {
	store    *database.SQLiteStore
	faulty   *testutil.FaultyStore
	queue    *testutil.RecordingQueue
	clock    *testutil.StubClock
	logger   *testutil.RecordingLogger
	pipeline *drift.Pipeline
}

func newPipelineFixture(t *testing.T, limiter drift.RateLimiter, opts drift.PipelineOptions) *pipelineFixture {
	t.Helper()
	store := testutil.NewTestStore(t)
	f := &pipelineFixture{
		store:  store,
		faulty: testutil.NewFaultyStore(store, errors.New("disk I/O error")),
		queue:  &testutil.RecordingQueue{},
		clock:  testutil.FixedClock(),
		logger: &testutil.RecordingLogger{},
	}
	f.pipeline = drift.NewPipeline(f.faulty, f.queue, limiter, f.logger, f.clock, testutil.NewPrefixedIDGenerator("snap"), opts)
	return f
}

func ingestReq(body string) drift.IngestRequest {
	return drift.IngestRequest{
		TenantKey:  "tenant-a",
		EndpointID: testutil.Endpoint,
		Data:       []byte(body),
		Source:     "sdk",
	}
}

func TestIngest_FirstSnapshot(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{})

	res, err := f.pipeline.Ingest(context.Background(), ingestReq(`{"b": 2, "a": 1}`))
	require.NoError(t, err)

	assert.False(t, res.IsDuplicate)
	assert.False(t, res.QueuedForDelta)
	assert.Equal(t, "snap-1", res.Snapshot.ID)
	assert.Equal(t, testutil.HashOf(t, `{"a":1,"b":2}`), res.Snapshot.ContentHash)
	assert.Equal(t, int64(len(`{"a":1,"b":2}`)), res.Snapshot.SizeBytes)
	assert.Equal(t, drift.SourceSDK, res.Snapshot.Source)
	assert.Empty(t, f.queue.Jobs())

	stored, err := f.store.GetLatestSnapshot(context.Background(), testutil.Endpoint)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, res.Snapshot.ID, stored.ID)
}

func TestIngest_DuplicateWithinInterval(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{})
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, ingestReq(`{"foo":1}`))
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	second, err := f.pipeline.Ingest(ctx, ingestReq(`{ "foo" : 1.0 }`))
	require.NoError(t, err)

	assert.True(t, second.IsDuplicate)
	assert.False(t, second.QueuedForDelta)
	assert.Equal(t, first.Snapshot.ID, second.Snapshot.ID)
	assert.Empty(t, f.queue.Jobs())

	all, err := f.store.ListSnapshots(ctx, testutil.Endpoint, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngest_SameContentAfterIntervalIsNew(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{DedupInterval: time.Hour})
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, ingestReq(`{"foo":1}`))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	atBoundary, err := f.pipeline.Ingest(ctx, ingestReq(`{"foo":1}`))
	require.NoError(t, err)
	assert.True(t, atBoundary.IsDuplicate, "exactly one interval later is still a duplicate")

	f.clock.Advance(time.Millisecond)
	later, err := f.pipeline.Ingest(ctx, ingestReq(`{"foo":1}`))
	require.NoError(t, err)
	assert.False(t, later.IsDuplicate)
	assert.True(t, later.QueuedForDelta)
	assert.Equal(t, []drift.DeltaJob{{
		SnapshotID:         later.Snapshot.ID,
		PreviousSnapshotID: first.Snapshot.ID,
		EndpointID:         testutil.Endpoint,
	}}, f.queue.Jobs())
}

func TestIngest_ChangedContentQueuesDelta(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{})
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, ingestReq(`{"v":1}`))
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.pipeline.Ingest(ctx, ingestReq(`{"v":2}`))
	require.NoError(t, err)

	assert.False(t, second.IsDuplicate)
	assert.True(t, second.QueuedForDelta)
	jobs := f.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, first.Snapshot.ID, jobs[0].PreviousSnapshotID)
	assert.Equal(t, second.Snapshot.ID, jobs[0].SnapshotID)
}

func TestIngest_EnqueueFailureIsSwallowed(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{})
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, ingestReq(`{"v":1}`))
	require.NoError(t, err)

	f.queue.Err = errors.New("queue unavailable")
	res, err := f.pipeline.Ingest(ctx, ingestReq(`{"v":2}`))
	require.NoError(t, err)

	assert.False(t, res.QueuedForDelta)
	assert.Equal(t, "snap-2", res.Snapshot.ID)
	assert.Contains(t, f.logger.Messages("WARN"), "enqueue delta job failed")

	stored, err := f.store.GetSnapshot(ctx, testutil.Endpoint, "snap-2")
	require.NoError(t, err)
	assert.NotNil(t, stored, "snapshot must be stored even though the enqueue failed")
}

func TestIngest_Validation(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{MaxPayloadBytes: 64})

	tests := []struct {
		name string
		mod  func(*drift.IngestRequest)
		code drift.ValidationCode
	}{
		{"bad endpoint", func(r *drift.IngestRequest) { r.EndpointID = "endpoint-1" }, drift.CodeInvalidEndpoint},
		{"bad source", func(r *drift.IngestRequest) { r.Source = "ftp" }, drift.CodeInvalidSource},
		{"too large", func(r *drift.IngestRequest) { r.Data = []byte(`{"k":"` + strings.Repeat("x", 64) + `"}`) }, drift.CodePayloadTooLarge},
		{"invalid json", func(r *drift.IngestRequest) { r.Data = []byte(`{"k":`) }, drift.CodeInvalidJSON},
		{"trailing data", func(r *drift.IngestRequest) { r.Data = []byte(`{} {}`) }, drift.CodeInvalidJSON},
		{"array", func(r *drift.IngestRequest) { r.Data = []byte(`[1,2]`) }, drift.CodeNotAnObject},
		{"null", func(r *drift.IngestRequest) { r.Data = []byte(`null`) }, drift.CodeNotAnObject},
		{"metadata not object", func(r *drift.IngestRequest) { r.Metadata = []byte(`"tag"`) }, drift.CodeInvalidMetadata},
		{"metadata invalid", func(r *drift.IngestRequest) { r.Metadata = []byte(`{`) }, drift.CodeInvalidMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ingestReq(`{"a":1}`)
			tt.mod(&req)

			_, err := f.pipeline.Ingest(context.Background(), req)
			var ve *drift.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code)
		})
	}
	assert.Zero(t, f.faulty.Calls("CreateSnapshot"), "invalid requests must not reach the store")
}

func TestIngest_PayloadAtLimitIsAccepted(t *testing.T) {
	body := `{"k":"` + strings.Repeat("x", 24) + `"}`
	f := newPipelineFixture(t, nil, drift.PipelineOptions{MaxPayloadBytes: len(body)})

	_, err := f.pipeline.Ingest(context.Background(), ingestReq(body))
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(context.Background(), ingestReq(body+" "))
	assert.True(t, drift.IsPayloadTooLarge(err), "got %v", err)
}

func TestIngest_Metadata(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{})
	req := ingestReq(`{"a":1}`)
	req.Metadata = []byte(`{"region":"eu"}`)

	res, err := f.pipeline.Ingest(context.Background(), req)
	require.NoError(t, err)

	stored, err := f.store.GetSnapshot(context.Background(), testutil.Endpoint, res.Snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, "eu", stored.Metadata["region"])
}

func TestIngest_StorageFailures(t *testing.T) {
	t.Run("latest lookup", func(t *testing.T) {
		f := newPipelineFixture(t, nil, drift.PipelineOptions{})
		f.faulty.FailNext("GetLatestSnapshot", 1)

		_, err := f.pipeline.Ingest(context.Background(), ingestReq(`{"a":1}`))
		assert.True(t, drift.IsStorageError(err), "got %v", err)
		assert.Zero(t, f.faulty.Calls("CreateSnapshot"))
	})

	t.Run("create snapshot", func(t *testing.T) {
		f := newPipelineFixture(t, nil, drift.PipelineOptions{})
		f.faulty.FailNext("CreateSnapshot", 1)

		_, err := f.pipeline.Ingest(context.Background(), ingestReq(`{"a":1}`))
		var se *drift.StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "create snapshot", se.Op)
		assert.Empty(t, f.queue.Jobs())
	})
}

func TestIngest_RateLimited(t *testing.T) {
	reset := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	limiter := testutil.StaticLimiter{Decision: drift.Decision{Allowed: false, Limit: 100, Remaining: 0, ResetAt: reset}}
	f := newPipelineFixture(t, limiter, drift.PipelineOptions{})

	_, err := f.pipeline.Ingest(context.Background(), ingestReq(`not even json`))

	var rl *drift.RateLimitExceededError
	require.ErrorAs(t, err, &rl, "the limiter runs before validation")
	assert.Equal(t, int64(100), rl.Limit)
	assert.Equal(t, reset, rl.ResetAt)
	assert.Zero(t, f.faulty.Calls("GetLatestSnapshot"))
}

func TestIngest_AllowedDecisionIsReported(t *testing.T) {
	d := drift.Decision{Allowed: true, Limit: 100, Remaining: 99}
	f := newPipelineFixture(t, testutil.StaticLimiter{Decision: d}, drift.PipelineOptions{})

	res, err := f.pipeline.Ingest(context.Background(), ingestReq(`{"a":1}`))
	require.NoError(t, err)
	require.NotNil(t, res.RateLimit)
	assert.Equal(t, d, *res.RateLimit)
}

func TestIngest_EndpointsAreIndependent(t *testing.T) {
	f := newPipelineFixture(t, nil, drift.PipelineOptions{})
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, ingestReq(`{"a":1}`))
	require.NoError(t, err)

	other := ingestReq(`{"a":1}`)
	other.EndpointID = testutil.OtherEndpoint
	res, err := f.pipeline.Ingest(ctx, other)
	require.NoError(t, err)

	assert.False(t, res.IsDuplicate)
	assert.False(t, res.QueuedForDelta)
}
