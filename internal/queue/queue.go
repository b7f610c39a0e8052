// Package queue implements the durable delta job queue: a visibility timeout
// queue backed by SQLite, with a dead-letter table for jobs that will not
// be retried.
//
// A claimed message is hidden from other consumers for the visibility
// timeout. If the consumer acks it the row is deleted; if the consumer
// crashes the message becomes visible again once the timeout passes and is
// redelivered with its attempt count incremented. Retries are scheduled by
// pushing visibility forward, so a delayed retry survives restarts.
//
// Tables (created by the database migrations):
//
//	delta_jobs   (id, payload, visible_at, created_at, attempts, last_error)
//	dead_letters (id, payload, attempts, reason, created_at, dead_at)
//
// Times are stored as milliseconds since the epoch.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"drift-go/internal/drift"
)

// Message is a claimed delta job.
type Message struct {
	ID        string
	Payload   []byte
	Attempts  int
	VisibleAt time.Time
	CreatedAt time.Time
	LastError string
}

// Job decodes the message payload.
func (m *Message) Job() (drift.DeltaJob, error) {
	var job drift.DeltaJob
	if err := json.Unmarshal(m.Payload, &job); err != nil {
		return drift.DeltaJob{}, fmt.Errorf("decoding job payload: %w", err)
	}
	if job.SnapshotID == "" || job.PreviousSnapshotID == "" || job.EndpointID == "" {
		return drift.DeltaJob{}, fmt.Errorf("job payload is missing snapshot or endpoint ids")
	}
	return job, nil
}

// DeadLetter is a job that was given up on. It is kept for inspection and
// can be requeued.
type DeadLetter struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"-"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	DeadAt    time.Time `json:"dead_at"`
}

// Job decodes the dead letter's payload.
func (d *DeadLetter) Job() (drift.DeltaJob, error) {
	m := Message{Payload: d.Payload}
	return m.Job()
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed message stays invisible. Default: 30s.
	Visibility time.Duration
	Logger     drift.Logger
	Clock      drift.Clock
	IDGen      drift.IDGenerator
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = drift.NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = drift.RealClock{}
	}
	if o.IDGen == nil {
		o.IDGen = drift.UUIDGenerator{}
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

var _ drift.Queue = (*Q)(nil)

// New creates a queue handle on a migrated database.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// Enqueue inserts a job that is immediately visible.
func (q *Q) Enqueue(ctx context.Context, job drift.DeltaJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	now := q.opts.Clock.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO delta_jobs (id, payload, visible_at, created_at) VALUES (?, ?, ?, ?)`,
		q.opts.IDGen.New(), payload, now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

const messageColumns = `id, payload, visible_at, created_at, attempts, last_error`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var (
		m            Message
		visAt, creAt int64
		lastError    sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Payload, &visAt, &creAt, &m.Attempts, &lastError); err != nil {
		return nil, err
	}
	m.VisibleAt = time.UnixMilli(visAt)
	m.CreatedAt = time.UnixMilli(creAt)
	m.LastError = lastError.String
	return &m, nil
}

// Claim atomically picks the oldest visible message, hides it for the
// visibility timeout and increments its attempt count. Returns nil, nil if
// no message is available.
func (q *Q) Claim(ctx context.Context) (*Message, error) {
	msgs, err := q.BatchClaim(ctx, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

// BatchClaim atomically claims up to n visible messages. It returns an
// empty (non-nil) slice when none are available.
func (q *Q) BatchClaim(ctx context.Context, n int) ([]*Message, error) {
	now := q.opts.Clock.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE delta_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM delta_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING `+messageColumns,
		hideUntil, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed job: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	return msgs, nil
}

// Ack deletes a successfully processed message.
func (q *Q) Ack(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM delta_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("acking job %s: %w", id, err)
	}
	return nil
}

// Retry makes a message visible again after delay and records why it failed.
func (q *Q) Retry(ctx context.Context, id string, delay time.Duration, reason string) error {
	visibleAt := q.opts.Clock.Now().Add(delay).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE delta_jobs SET visible_at = ?, last_error = ? WHERE id = ?`,
		visibleAt, reason, id,
	)
	if err != nil {
		return fmt.Errorf("scheduling retry of job %s: %w", id, err)
	}
	return nil
}

// Extend hides a claimed message for another extra from now. It is the
// heartbeat of a handler that needs more time than the visibility timeout.
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := q.opts.Clock.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE delta_jobs SET visible_at = ? WHERE id = ?`, hideUntil, id,
	)
	if err != nil {
		return fmt.Errorf("extending job %s: %w", id, err)
	}
	return nil
}

// release returns a claimed message that was never handled, undoing the
// attempt the claim counted.
func (q *Q) release(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE delta_jobs SET visible_at = 0, attempts = MAX(attempts - 1, 0) WHERE id = ?`, id,
	)
	return err
}

// DeadLetter moves a message to the dead-letter table.
func (q *Q) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, payload, attempts, reason, created_at, dead_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			attempts = excluded.attempts, reason = excluded.reason, dead_at = excluded.dead_at`,
		msg.ID, msg.Payload, msg.Attempts, reason, msg.CreatedAt.UnixMilli(), q.opts.Clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM delta_jobs WHERE id = ?`, msg.ID); err != nil {
		return fmt.Errorf("removing dead-lettered job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListDeadLetters returns up to limit dead letters, most recent first.
// A non-positive limit returns all of them.
func (q *Q) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payload, attempts, reason, created_at, dead_at
		FROM dead_letters
		ORDER BY dead_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var result []*DeadLetter
	for rows.Next() {
		var (
			d             DeadLetter
			creAt, deadAt int64
		)
		if err := rows.Scan(&d.ID, &d.Payload, &d.Attempts, &d.Reason, &creAt, &deadAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		d.CreatedAt = time.UnixMilli(creAt)
		d.DeadAt = time.UnixMilli(deadAt)
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	return result, nil
}

// RequeueDeadLetter moves a dead letter back onto the queue with a fresh
// attempt count.
func (q *Q) RequeueDeadLetter(ctx context.Context, id string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		payload []byte
		creAt   int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT payload, created_at FROM dead_letters WHERE id = ?`, id).Scan(&payload, &creAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &drift.NotFoundError{Kind: "dead letter", ID: id}
	}
	if err != nil {
		return fmt.Errorf("finding dead letter: %w", err)
	}

	now := q.opts.Clock.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delta_jobs (id, payload, visible_at, created_at) VALUES (?, ?, ?, ?)`,
		id, payload, now, creAt); err != nil {
		return fmt.Errorf("requeueing job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing dead letter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// PurgeDeadLetters deletes dead letters older than retention and returns
// how many were removed.
func (q *Q) PurgeDeadLetters(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := q.opts.Clock.Now().Add(-retention).UnixMilli()
	res, err := q.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE dead_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of queued messages, visible or not.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delta_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}
