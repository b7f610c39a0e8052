// Package worker runs the asynchronous delta computation: it consumes delta
// jobs from the queue, diffs the two referenced snapshots and persists the
// resulting Delta.
//
// A job moves through received -> processing -> completed, or through
// retrying back to processing, or ends dead_lettered. Missing snapshots and
// malformed payloads are dead-lettered at once; storage failures are retried
// with exponential backoff until the attempt budget is spent.
package worker

import (
	"context"
	"fmt"
	"time"

	"drift-go/internal/drift"
	"drift-go/internal/metrics"
	"drift-go/internal/queue"
)

// MinDeadLetterRetention is the shortest retention PurgeDeadLetters accepts.
const MinDeadLetterRetention = 24 * time.Hour

// Options tunes the worker. Zero values select the defaults.
type Options struct {
	Concurrency   int
	RatePerSecond float64
	BatchSize     int
	PollInterval  time.Duration
	// MaxAttempts is the number of deliveries a job gets. Default: 3.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry. Default: 1s.
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	return o
}

// DeltaWorker computes deltas for queued jobs.
type DeltaWorker struct {
	store  drift.Store
	queue  *queue.Q
	logger drift.Logger
	clock  drift.Clock
	idgen  drift.IDGenerator
	opts   Options
}

// New creates a DeltaWorker.
func New(store drift.Store, q *queue.Q, logger drift.Logger, clock drift.Clock, idgen drift.IDGenerator, opts Options) *DeltaWorker {
	return &DeltaWorker{
		store:  store,
		queue:  q,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		opts:   opts.withDefaults(),
	}
}

// Run consumes jobs until ctx is cancelled, then waits for in-flight jobs.
func (w *DeltaWorker) Run(ctx context.Context) error {
	return w.queue.Consume(ctx, queue.ConsumeOptions{
		Concurrency:   w.opts.Concurrency,
		RatePerSecond: w.opts.RatePerSecond,
		BatchSize:     w.opts.BatchSize,
		PollInterval:  w.opts.PollInterval,
	}, w.Handle)
}

// Handle processes one claimed message and decides its fate.
func (w *DeltaWorker) Handle(ctx context.Context, msg *queue.Message) queue.Disposition {
	log := w.logger
	log.Debug("delta job received", "job", msg.ID, "attempt", msg.Attempts)

	if msg.Attempts > w.opts.MaxAttempts {
		return w.deadLetter(msg, fmt.Sprintf("exceeded %d attempts", w.opts.MaxAttempts))
	}

	job, err := msg.Job()
	if err != nil {
		return w.deadLetter(msg, err.Error())
	}

	log.Debug("delta job processing", "job", msg.ID, "endpoint", job.EndpointID,
		"from", job.PreviousSnapshotID, "to", job.SnapshotID)

	start := time.Now()
	delta, err := w.Process(ctx, job)
	if err != nil {
		if drift.IsNotFound(err) {
			return w.deadLetter(msg, err.Error())
		}
		if msg.Attempts >= w.opts.MaxAttempts {
			return w.deadLetter(msg, err.Error())
		}
		delay := w.backoff(msg.Attempts)
		metrics.DeltaJobsTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
		log.Warn("delta job retrying", "job", msg.ID, "attempt", msg.Attempts, "delay", delay, "error", err)
		return queue.RetryAfter(delay, err.Error())
	}

	metrics.DeltaDuration.Observe(time.Since(start).Seconds())
	metrics.DeltaSimilarity.Observe(delta.SimilarityScore)
	metrics.DeltaJobsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	log.Info("delta job completed", "job", msg.ID, "delta", delta.ID,
		"changes", delta.ChangesCount, "similarity", delta.SimilarityScore)
	return queue.Ack()
}

// Process diffs the job's two snapshots and stores the delta. Storing is
// idempotent: a job processed twice returns the delta stored the first time.
func (w *DeltaWorker) Process(ctx context.Context, job drift.DeltaJob) (*drift.Delta, error) {
	from, err := w.loadSnapshot(ctx, job.EndpointID, job.PreviousSnapshotID)
	if err != nil {
		return nil, err
	}
	to, err := w.loadSnapshot(ctx, job.EndpointID, job.SnapshotID)
	if err != nil {
		return nil, err
	}

	result := drift.Compare(from, to)
	delta := &drift.Delta{
		ID:              w.idgen.New(),
		EndpointID:      job.EndpointID,
		FromSnapshotID:  from.ID,
		ToSnapshotID:    to.ID,
		Timestamp:       w.clock.Now().UTC().Truncate(time.Millisecond),
		Operations:      result.Operations,
		ChangesCount:    result.Summary.Total,
		Additions:       result.Summary.Additions,
		Deletions:       result.Summary.Deletions,
		Modifications:   result.Summary.Modifications,
		SimilarityScore: result.SimilarityScore,
	}

	stored, err := w.store.CreateDelta(ctx, delta)
	if err != nil {
		return nil, &drift.StorageError{Op: "create delta", Err: err}
	}
	return stored, nil
}

func (w *DeltaWorker) loadSnapshot(ctx context.Context, endpointID, id string) (*drift.Snapshot, error) {
	s, err := w.store.GetSnapshot(ctx, endpointID, id)
	if err != nil {
		return nil, &drift.StorageError{Op: "get snapshot", Err: err}
	}
	if s == nil {
		return nil, &drift.NotFoundError{Kind: "snapshot", ID: id}
	}
	return s, nil
}

// backoff returns base * 2^(attempt-1).
func (w *DeltaWorker) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return w.opts.BaseBackoff << (attempt - 1)
}

func (w *DeltaWorker) deadLetter(msg *queue.Message, reason string) queue.Disposition {
	metrics.DeltaJobsTotal.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
	w.logger.Error("delta job dead-lettered", "job", msg.ID, "attempt", msg.Attempts, "reason", reason)
	return queue.DeadLetterBecause(reason)
}

// PurgeDeadLetters removes dead letters older than retention. Retentions
// shorter than MinDeadLetterRetention are raised to it.
func (w *DeltaWorker) PurgeDeadLetters(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < MinDeadLetterRetention {
		retention = MinDeadLetterRetention
	}
	n, err := w.queue.PurgeDeadLetters(ctx, retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("purged dead letters", "count", n, "retention", retention)
	}
	return n, nil
}
