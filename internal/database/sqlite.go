package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"drift-go/internal/canonical"
	"drift-go/internal/database/migrations"
	"drift-go/internal/drift"
	"drift-go/internal/jsondiff"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements drift.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ drift.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path. path can be a file path or
// ":memory:". Migrations are not applied.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection configured by OpenConnection.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection pool.
//
// The pool holds a single connection: SQLite allows one writer at a time,
// and every ":memory:" connection would otherwise be a separate database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// DB exposes the connection pool so the job queue and counter store can
// share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Path() string { return s.path }

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Snapshot operations

const snapshotColumns = `id, endpoint_id, timestamp, data, content_hash, size_bytes, source, metadata, archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*drift.Snapshot, error) {
	var (
		s          drift.Snapshot
		ts         int64
		data       string
		source     string
		metadata   sql.NullString
		archivedAt sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.EndpointID, &ts, &data, &s.ContentHash, &s.SizeBytes, &source, &metadata, &archivedAt); err != nil {
		return nil, err
	}

	s.Timestamp = time.UnixMilli(ts).UTC()
	s.Source = drift.Source(source)

	doc, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("decoding data of snapshot %s: %w", s.ID, err)
	}
	s.Data = doc

	if metadata.Valid {
		m, err := decodeObject(metadata.String)
		if err != nil {
			return nil, fmt.Errorf("decoding metadata of snapshot %s: %w", s.ID, err)
		}
		s.Metadata = m
	}
	if archivedAt.Valid {
		at := time.UnixMilli(archivedAt.Int64).UTC()
		s.ArchivedAt = &at
	}
	return &s, nil
}

func decodeObject(text string) (map[string]any, error) {
	v, err := canonical.Decode([]byte(text))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored value is %T, not an object", v)
	}
	return obj, nil
}

func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context, endpointID string) (*drift.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE endpoint_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`, endpointID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, endpointID, id string) (*drift.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE endpoint_id = ? AND id = ?`, endpointID, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *drift.Snapshot) error {
	data, err := canonical.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("encoding snapshot data: %w", err)
	}

	var metadata sql.NullString
	if snap.Metadata != nil {
		m, err := canonical.Marshal(snap.Metadata)
		if err != nil {
			return fmt.Errorf("encoding snapshot metadata: %w", err)
		}
		metadata = sql.NullString{String: string(m), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, endpoint_id, timestamp, data, content_hash, size_bytes, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.EndpointID, snap.Timestamp.UnixMilli(), string(data), snap.ContentHash,
		snap.SizeBytes, string(snap.Source), metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, endpointID string, limit int) ([]*drift.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE endpoint_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, endpointID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

func (s *SQLiteStore) ListUnarchivedSnapshots(ctx context.Context, limit int) ([]*drift.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE archived_at IS NULL
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing unarchived snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

func collectSnapshots(rows *sql.Rows) ([]*drift.Snapshot, error) {
	defer rows.Close()

	var result []*drift.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) MarkSnapshotArchived(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET archived_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("marking snapshot archived: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking snapshot archived: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("marking snapshot archived: snapshot %s does not exist", id)
	}
	return nil
}

// Delta operations

const deltaColumns = `id, endpoint_id, from_snapshot_id, to_snapshot_id, timestamp, operations,
	changes_count, additions, deletions, modifications, similarity_score`

func scanDelta(row rowScanner) (*drift.Delta, error) {
	var (
		d   drift.Delta
		ts  int64
		ops string
	)
	err := row.Scan(&d.ID, &d.EndpointID, &d.FromSnapshotID, &d.ToSnapshotID, &ts, &ops,
		&d.ChangesCount, &d.Additions, &d.Deletions, &d.Modifications, &d.SimilarityScore)
	if err != nil {
		return nil, err
	}
	d.Timestamp = time.UnixMilli(ts).UTC()
	if err := json.Unmarshal([]byte(ops), &d.Operations); err != nil {
		return nil, fmt.Errorf("decoding operations of delta %s: %w", d.ID, err)
	}
	return &d, nil
}

// CreateDelta inserts d unless a delta for the same snapshot pair exists and
// returns the stored row. Concurrent or repeated calls for a pair all return
// the first row written.
func (s *SQLiteStore) CreateDelta(ctx context.Context, d *drift.Delta) (*drift.Delta, error) {
	ops := d.Operations
	if ops == nil {
		ops = []jsondiff.Operation{}
	}
	encoded, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encoding delta operations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deltas (`+deltaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (from_snapshot_id, to_snapshot_id) DO NOTHING`,
		d.ID, d.EndpointID, d.FromSnapshotID, d.ToSnapshotID, d.Timestamp.UnixMilli(), string(encoded),
		d.ChangesCount, d.Additions, d.Deletions, d.Modifications, d.SimilarityScore,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting delta: %w", err)
	}

	stored, err := scanDelta(tx.QueryRowContext(ctx, `
		SELECT `+deltaColumns+` FROM deltas
		WHERE from_snapshot_id = ? AND to_snapshot_id = ?`, d.FromSnapshotID, d.ToSnapshotID))
	if err != nil {
		return nil, fmt.Errorf("reading stored delta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) GetDeltaForPair(ctx context.Context, fromID, toID string) (*drift.Delta, error) {
	d, err := scanDelta(s.db.QueryRowContext(ctx, `
		SELECT `+deltaColumns+` FROM deltas
		WHERE from_snapshot_id = ? AND to_snapshot_id = ?`, fromID, toID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding delta: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDeltas(ctx context.Context, endpointID string, limit int) ([]*drift.Delta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deltaColumns+` FROM deltas
		WHERE endpoint_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, endpointID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing deltas: %w", err)
	}
	defer rows.Close()

	var result []*drift.Delta
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delta: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading deltas: %w", err)
	}
	return result, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Schema returns the CREATE statements of the migrated schema, tables first.
func (s *SQLiteStore) Schema(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	defer rows.Close()

	var schema string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("reading schema: %w", err)
		}
		schema += stmt + "\n\n"
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	return schema, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
