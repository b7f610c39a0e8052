package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"drift-go/internal/canonical"
	"drift-go/internal/metrics"
)

const (
	DefaultMaxPayloadBytes = 1 << 20
	DefaultDedupInterval   = time.Hour
)

// PipelineOptions tunes ingestion. Zero values select the defaults.
type PipelineOptions struct {
	// MaxPayloadBytes bounds the raw size of submitted data.
	MaxPayloadBytes int
	// DedupInterval is how long an identical latest snapshot suppresses a new one.
	DedupInterval time.Duration
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if o.DedupInterval <= 0 {
		o.DedupInterval = DefaultDedupInterval
	}
	return o
}

// Pipeline accepts snapshots, suppresses duplicates and schedules delta
// computation against the previous snapshot of the same endpoint.
type Pipeline struct {
	store   Store
	queue   Queue
	limiter RateLimiter
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	opts    PipelineOptions
}

// NewPipeline creates a Pipeline. limiter may be nil to disable rate limiting.
func NewPipeline(store Store, queue Queue, limiter RateLimiter, logger Logger, clock Clock, idgen IDGenerator, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		store:   store,
		queue:   queue,
		limiter: limiter,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		opts:    opts.withDefaults(),
	}
}

// Ingest stores one snapshot.
//
// The rate limiter is consulted before anything else. A snapshot whose
// content hash equals the endpoint's latest snapshot, taken within the dedup
// interval, is reported as a duplicate and nothing is written. Otherwise the
// snapshot is stored and, if a previous snapshot exists, a delta job is
// enqueued. A failed enqueue does not fail the ingestion: the result reports
// QueuedForDelta=false.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestionResult, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	var decision *Decision
	if p.limiter != nil {
		d := p.limiter.Check(ctx, req.TenantKey, req.Tier)
		decision = &d
		if !d.Allowed {
			metrics.IngestTotal.WithLabelValues(metrics.ResultRateLimited).Inc()
			p.logger.Info("ingest rate limited", "tenant", req.TenantKey, "limit", d.Limit, "reset_at", d.ResetAt)
			return nil, &RateLimitExceededError{Limit: d.Limit, Remaining: d.Remaining, ResetAt: d.ResetAt}
		}
	}

	in, err := p.validate(req)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}

	body, err := canonical.Marshal(in.data)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, &ValidationError{Code: CodeInvalidJSON, Message: err.Error()}
	}
	hash := canonical.HashBytes(body)

	latest, err := p.store.GetLatestSnapshot(ctx, in.endpointID)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, &StorageError{Op: "get latest snapshot", Err: err}
	}

	// Stored timestamps have millisecond precision.
	now := p.clock.Now().UTC().Truncate(time.Millisecond)

	if latest != nil && latest.ContentHash == hash && now.Sub(latest.Timestamp) <= p.opts.DedupInterval {
		metrics.IngestTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
		p.logger.Debug("duplicate snapshot", "endpoint", in.endpointID, "snapshot", latest.ID, "hash", hash)
		return &IngestionResult{Snapshot: latest, IsDuplicate: true, RateLimit: decision}, nil
	}

	snapshot := &Snapshot{
		ID:          p.idgen.New(),
		EndpointID:  in.endpointID,
		Timestamp:   now,
		Data:        in.data,
		ContentHash: hash,
		SizeBytes:   int64(len(body)),
		Source:      in.source,
		Metadata:    in.metadata,
	}
	if err := p.store.CreateSnapshot(ctx, snapshot); err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, &StorageError{Op: "create snapshot", Err: err}
	}
	metrics.IngestTotal.WithLabelValues(metrics.ResultCreated).Inc()
	p.logger.Info("snapshot stored", "endpoint", in.endpointID, "snapshot", snapshot.ID, "size", snapshot.SizeBytes)

	result := &IngestionResult{Snapshot: snapshot, RateLimit: decision}
	if latest == nil {
		return result, nil
	}

	job := DeltaJob{SnapshotID: snapshot.ID, PreviousSnapshotID: latest.ID, EndpointID: in.endpointID}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		metrics.EnqueueFailures.Inc()
		p.logger.Warn("enqueue delta job failed", "endpoint", in.endpointID, "snapshot", snapshot.ID, "error", &QueueError{Err: err})
		return result, nil
	}
	result.QueuedForDelta = true
	return result, nil
}

type validatedRequest struct {
	endpointID string
	source     Source
	data       map[string]any
	metadata   map[string]any
}

func (p *Pipeline) validate(req IngestRequest) (*validatedRequest, error) {
	endpoint, err := uuid.Parse(req.EndpointID)
	if err != nil {
		return nil, &ValidationError{Code: CodeInvalidEndpoint, Message: fmt.Sprintf("endpoint id %q is not a uuid", req.EndpointID)}
	}

	source := Source(req.Source)
	if !source.Valid() {
		return nil, &ValidationError{Code: CodeInvalidSource, Message: fmt.Sprintf("unknown source %q", req.Source)}
	}

	if len(req.Data) > p.opts.MaxPayloadBytes {
		return nil, &ValidationError{
			Code:    CodePayloadTooLarge,
			Message: fmt.Sprintf("payload is %d bytes, limit is %d", len(req.Data), p.opts.MaxPayloadBytes),
		}
	}

	doc, err := canonical.Decode(req.Data)
	if err != nil {
		return nil, &ValidationError{Code: CodeInvalidJSON, Message: err.Error()}
	}
	data, ok := doc.(map[string]any)
	if !ok {
		return nil, &ValidationError{Code: CodeNotAnObject, Message: "snapshot data must be a JSON object"}
	}

	var metadata map[string]any
	if len(req.Metadata) > 0 {
		m, err := canonical.Decode(req.Metadata)
		if err != nil {
			return nil, &ValidationError{Code: CodeInvalidMetadata, Message: err.Error()}
		}
		if m != nil {
			if metadata, ok = m.(map[string]any); !ok {
				return nil, &ValidationError{Code: CodeInvalidMetadata, Message: "metadata must be a JSON object"}
			}
		}
	}

	return &validatedRequest{
		endpointID: endpoint.String(),
		source:     source,
		data:       data,
		metadata:   metadata,
	}, nil
}
