// Package metrics holds the Prometheus collectors shared by the ingestion
// pipeline, the delta worker and the HTTP adapter. Collectors register with
// the default registry on package initialization.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest results.
const (
	ResultCreated     = "created"
	ResultDuplicate   = "duplicate"
	ResultRateLimited = "rate_limited"
	ResultInvalid     = "invalid"
	ResultError       = "error"
)

// Delta job outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

var (
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_ingest_total",
		Help: "Snapshot ingestion attempts by result",
	}, []string{"result"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drift_ingest_duration_seconds",
		Help:    "Duration of snapshot ingestion",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drift_enqueue_failures_total",
		Help: "Delta jobs that could not be enqueued after a snapshot was stored",
	})

	RateLimitFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drift_ratelimit_fail_open_total",
		Help: "Requests allowed because the rate limit counter store failed",
	})

	DeltaJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_delta_jobs_total",
		Help: "Delta jobs handled by the worker, by outcome",
	}, []string{"outcome"})

	DeltaDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drift_delta_duration_seconds",
		Help:    "Time to load, diff and persist one delta",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	DeltaSimilarity = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drift_delta_similarity",
		Help:    "Similarity scores of computed deltas",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	ArchivedSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drift_archived_snapshots_total",
		Help: "Snapshots exported to the archive vault",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
)
