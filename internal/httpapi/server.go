// Package httpapi exposes ingestion, comparison and history over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drift-go/internal/drift"
	"drift-go/internal/metrics"
)

// Ingester stores snapshots.
type Ingester interface {
	Ingest(ctx context.Context, req drift.IngestRequest) (*drift.IngestionResult, error)
}

// Comparer diffs two stored snapshots.
type Comparer interface {
	CompareSnapshots(ctx context.Context, endpointID, fromID, toID string) (*drift.DiffResult, error)
}

// History lists stored snapshots and deltas.
type History interface {
	ListSnapshots(ctx context.Context, endpointID string, limit int) ([]*drift.Snapshot, error)
	ListDeltas(ctx context.Context, endpointID string, limit int) ([]*drift.Delta, error)
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	// bodyOverhead is the room left in a request body for the envelope
	// around the snapshot data.
	bodyOverhead = 64 << 10
)

// Options configures a Server.
type Options struct {
	// MaxPayloadBytes is the ingestion payload limit; the request body may
	// exceed it by the envelope overhead.
	MaxPayloadBytes int
	// Health reports whether dependencies are reachable. Optional.
	Health func(ctx context.Context) error
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	ingester Ingester
	comparer Comparer
	history  History
	logger   drift.Logger
	clock    drift.Clock
	validate *validator.Validate
	opts     Options
	router   *mux.Router
}

// NewServer creates a Server and registers its routes.
func NewServer(ingester Ingester, comparer Comparer, history History, logger drift.Logger, clock drift.Clock, opts Options) *Server {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = drift.DefaultMaxPayloadBytes
	}
	s := &Server{
		ingester: ingester,
		comparer: comparer,
		history:  history,
		logger:   logger,
		clock:    clock,
		validate: validator.New(),
		opts:     opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/endpoints/{endpointID}/snapshots", s.ingest).Methods(http.MethodPost)
	v1.HandleFunc("/endpoints/{endpointID}/snapshots", s.listSnapshots).Methods(http.MethodGet)
	v1.HandleFunc("/endpoints/{endpointID}/deltas", s.listDeltas).Methods(http.MethodGet)
	v1.HandleFunc("/endpoints/{endpointID}/compare", s.compare).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listLimit parses the limit query parameter.
func (s *Server) listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer")
	}
	if err := s.validate.Var(n, fmt.Sprintf("min=1,max=%d", MaxListLimit)); err != nil {
		return 0, fmt.Errorf("limit must be between 1 and %d", MaxListLimit)
	}
	return n, nil
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := s.listLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	snaps, err := s.history.ListSnapshots(r.Context(), mux.Vars(r)["endpointID"], limit)
	if err != nil {
		s.fail(w, r, &drift.StorageError{Op: "list snapshots", Err: err})
		return
	}
	if snaps == nil {
		snaps = []*drift.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) listDeltas(w http.ResponseWriter, r *http.Request) {
	limit, err := s.listLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	deltas, err := s.history.ListDeltas(r.Context(), mux.Vars(r)["endpointID"], limit)
	if err != nil {
		s.fail(w, r, &drift.StorageError{Op: "list deltas", Err: err})
		return
	}
	if deltas == nil {
		deltas = []*drift.Delta{}
	}
	writeJSON(w, http.StatusOK, deltas)
}

type compareQuery struct {
	From string `validate:"required"`
	To   string `validate:"required"`
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	q := compareQuery{From: r.URL.Query().Get("from"), To: r.URL.Query().Get("to")}
	if err := s.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "from and to query parameters are required")
		return
	}

	res, err := s.comparer.CompareSnapshots(r.Context(), mux.Vars(r)["endpointID"], q.From, q.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps a pipeline error to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *drift.ValidationError
		nf *drift.NotFoundError
		rl *drift.RateLimitExceededError
	)
	switch {
	case errors.As(err, &rl):
		setRateLimitHeaders(w, rl.Limit, rl.Remaining, rl.ResetAt)
		retry := int64(rl.ResetAt.Sub(s.clock.Now()).Round(time.Second).Seconds())
		w.Header().Set("Retry-After", strconv.FormatInt(max(retry, 1), 10))
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if ve.Code == drift.CodePayloadTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, string(ve.Code), ve.Message)
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int64, reset time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs each request and counts it by route template and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug("http request", "method", r.Method, "route", route, "status", rec.status, "duration", time.Since(start))
	})
}
