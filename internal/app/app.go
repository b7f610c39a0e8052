// Package app wires the drift components from configuration and exposes
// the operations the CLI runs.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"drift-go/internal/config"
	"drift-go/internal/database"
	"drift-go/internal/database/migrations"
	"drift-go/internal/drift"
	"drift-go/internal/encryption"
	"drift-go/internal/httpapi"
	"drift-go/internal/queue"
	"drift-go/internal/ratelimit"
	"drift-go/internal/vault"
	"drift-go/internal/worker"
)

// MaintenanceInterval is how often long-running commands purge expired
// dead letters and rate limit windows.
const MaintenanceInterval = time.Hour

// DriftApp is the application layer between the CLI and the pipeline. It
// constructs all dependencies from config and owns their lifecycle.
type DriftApp struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	queue     *queue.Q
	counters  ratelimit.CounterStore
	limiter   *ratelimit.Limiter
	pipeline  *drift.Pipeline
	comparer  *drift.Comparer
	worker    *worker.DeltaWorker
	vault     drift.Vault
	encryptor drift.Encryptor
	archiver  *drift.Archiver
	logger    drift.Logger
	logFile   *os.File
}

// NewDriftApp creates a fully wired DriftApp from the given config.
// command names the CLI command being run and tags every log line.
// The caller must call Close when done.
func NewDriftApp(ctx context.Context, cfg *config.Config, command string) (*DriftApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	runID := command + "-" + time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &DriftApp{cfg: cfg, logger: logger, logFile: logFile}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *DriftApp) wire(ctx context.Context) error {
	cfg := a.cfg
	clock := drift.RealClock{}
	idgen := drift.UUIDGenerator{}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.store = store
	if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run `drift migrate`): %w", err)
	}

	switch cfg.RateLimit.Store {
	case "sqlite":
		a.counters = database.NewSQLiteCounterStore(store.DB(), clock)
	case "memory":
		a.counters = ratelimit.NewMemoryCounterStore(clock)
	default:
		return fmt.Errorf("unknown rate limit store: %s", cfg.RateLimit.Store)
	}
	a.limiter = ratelimit.New(a.counters, ratelimit.Limits{
		Tiers:       cfg.RateLimit.Tiers,
		DefaultTier: cfg.RateLimit.DefaultTier,
	}, a.logger, clock)

	a.queue = queue.New(store.DB(), queue.Options{
		Visibility: cfg.Worker.Visibility.Duration,
		Logger:     a.logger,
		Clock:      clock,
		IDGen:      idgen,
	})

	a.pipeline = drift.NewPipeline(store, a.queue, a.limiter, a.logger, clock, idgen, drift.PipelineOptions{
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes,
		DedupInterval:   cfg.Ingest.DedupInterval.Duration,
	})
	a.comparer = drift.NewComparer(store, a.logger)
	a.worker = worker.New(store, a.queue, a.logger, clock, idgen, worker.Options{
		Concurrency:   cfg.Worker.Concurrency,
		RatePerSecond: cfg.Worker.RatePerSecond,
		BatchSize:     cfg.Worker.BatchSize,
		PollInterval:  cfg.Worker.PollInterval.Duration,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		BaseBackoff:   cfg.Worker.BaseBackoff.Duration,
	})

	a.vault, err = vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.archiver = drift.NewArchiver(store, a.vault, a.encryptor, a.logger, clock)
	return nil
}

// Logger returns the application logger.
func (a *DriftApp) Logger() drift.Logger { return a.logger }

// Ingest stores one snapshot.
func (a *DriftApp) Ingest(ctx context.Context, req drift.IngestRequest) (*drift.IngestionResult, error) {
	return a.pipeline.Ingest(ctx, req)
}

// Compare diffs two stored snapshots of an endpoint.
func (a *DriftApp) Compare(ctx context.Context, endpointID, fromID, toID string) (*drift.DiffResult, error) {
	return a.comparer.CompareSnapshots(ctx, endpointID, fromID, toID)
}

// Snapshots lists the newest snapshots of an endpoint.
func (a *DriftApp) Snapshots(ctx context.Context, endpointID string, limit int) ([]*drift.Snapshot, error) {
	return a.store.ListSnapshots(ctx, endpointID, limit)
}

// Deltas lists the newest deltas of an endpoint.
func (a *DriftApp) Deltas(ctx context.Context, endpointID string, limit int) ([]*drift.Delta, error) {
	return a.store.ListDeltas(ctx, endpointID, limit)
}

// RunWorker processes delta jobs until ctx is cancelled.
func (a *DriftApp) RunWorker(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.worker.Run(gctx) })
	g.Go(func() error { return a.maintain(gctx) })
	return g.Wait()
}

// Serve runs the HTTP adapter together with the delta worker until ctx is
// cancelled or one of them fails.
func (a *DriftApp) Serve(ctx context.Context) error {
	srv := httpapi.NewServer(a.pipeline, a.comparer, a.store, a.logger, drift.RealClock{}, httpapi.Options{
		MaxPayloadBytes: a.cfg.Ingest.MaxPayloadBytes,
		Health:          a.store.Ping,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h := a.cfg.HTTP
		return srv.ListenAndServe(gctx, h.Addr, h.ReadTimeout.Duration, h.WriteTimeout.Duration, h.ShutdownTimeout.Duration)
	})
	g.Go(func() error { return a.worker.Run(gctx) })
	g.Go(func() error { return a.maintain(gctx) })
	return g.Wait()
}

// maintain purges expired dead letters and rate limit windows once per
// MaintenanceInterval, starting immediately.
func (a *DriftApp) maintain(ctx context.Context) error {
	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()
	for {
		a.runMaintenance(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *DriftApp) runMaintenance(ctx context.Context) {
	if _, err := a.PurgeDeadLetters(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn("purging dead letters failed", "error", err)
	}
	if c, ok := a.counters.(*database.SQLiteCounterStore); ok {
		n, err := c.PurgeExpired(ctx)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("purging rate limit windows failed", "error", err)
		} else if n > 0 {
			a.logger.Debug("purged rate limit windows", "count", n)
		}
	}
}

// DeadLetters lists the most recent dead-lettered jobs.
func (a *DriftApp) DeadLetters(ctx context.Context, limit int) ([]*queue.DeadLetter, error) {
	return a.queue.ListDeadLetters(ctx, limit)
}

// RequeueDeadLetter puts a dead-lettered job back on the queue.
func (a *DriftApp) RequeueDeadLetter(ctx context.Context, id string) error {
	if err := a.queue.RequeueDeadLetter(ctx, id); err != nil {
		return err
	}
	a.logger.Info("dead letter requeued", "job", id)
	return nil
}

// PurgeDeadLetters removes dead letters older than the configured retention.
func (a *DriftApp) PurgeDeadLetters(ctx context.Context) (int64, error) {
	return a.worker.PurgeDeadLetters(ctx, a.cfg.Worker.DeadLetterRetention.Duration)
}

// QueueLength returns the number of pending delta jobs.
func (a *DriftApp) QueueLength(ctx context.Context) (int, error) {
	return a.queue.Len(ctx)
}

// ArchivePending exports up to limit unarchived snapshots to the vault.
func (a *DriftApp) ArchivePending(ctx context.Context, limit int) (int, error) {
	if !a.encryptor.IsConfigured() {
		return 0, fmt.Errorf("encryption keys are not set up (run `drift keys init`)")
	}
	if err := a.vault.ValidateSetup(ctx); err != nil {
		return 0, fmt.Errorf("vault not ready: %w", err)
	}
	return a.archiver.ArchivePending(ctx, limit)
}

// Restore fetches and decrypts an archived payload.
func (a *DriftApp) Restore(ctx context.Context, contentHash, passphrase string) (map[string]any, error) {
	return a.archiver.Restore(ctx, contentHash, passphrase)
}

// SetupKeys generates the archive key pair and returns the public key when
// the encryptor exposes one.
func (a *DriftApp) SetupKeys(passphrase string) (string, error) {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return "", err
	}
	if r, ok := a.encryptor.(interface{ Recipient() (string, error) }); ok {
		return r.Recipient()
	}
	return "", nil
}

// BackupDatabase writes a consistent copy of the database to destPath.
func (a *DriftApp) BackupDatabase(ctx context.Context, destPath string) error {
	if err := a.store.BackupTo(ctx, destPath); err != nil {
		return err
	}
	a.logger.Info("database backed up", "dest", destPath)
	return nil
}

// Schema returns the SQL schema of the database.
func (a *DriftApp) Schema(ctx context.Context) (string, error) {
	return a.store.Schema(ctx)
}

// Close releases all resources.
func (a *DriftApp) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// Migrate applies pending schema migrations to the configured database and
// returns the schema status before and after.
func Migrate(cfg config.DatabaseConfig) (before, after migrations.Status, err error) {
	store, err := database.NewStoreFromConfig(cfg)
	if err != nil {
		return before, after, fmt.Errorf("creating database: %w", err)
	}
	defer store.Close()

	if before, err = migrations.CurrentStatus(store.DB()); err != nil {
		return before, after, err
	}
	if err = store.Migrate(); err != nil {
		return before, after, fmt.Errorf("migrating database: %w", err)
	}
	after, err = migrations.CurrentStatus(store.DB())
	return before, after, err
}
