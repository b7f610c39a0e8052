package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"drift-go/internal/drift"
	"drift-go/internal/ratelimit"
)

// SQLiteCounterStore keeps rate limit counters in the rate_windows table.
type SQLiteCounterStore struct {
	db    *sql.DB
	clock drift.Clock
}

var _ ratelimit.CounterStore = (*SQLiteCounterStore)(nil)

func NewSQLiteCounterStore(db *sql.DB, clock drift.Clock) *SQLiteCounterStore {
	return &SQLiteCounterStore{db: db, clock: clock}
}

// Increment adds one to key in a single statement and returns the new
// count. A counter whose expiry has passed starts over at one.
func (c *SQLiteCounterStore) Increment(ctx context.Context, key string) (int64, error) {
	now := c.clock.Now().UnixMilli()

	var count int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO rate_windows (key, count, expires_at) VALUES (?, 1, NULL)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN rate_windows.expires_at IS NOT NULL AND rate_windows.expires_at <= ? THEN 1
				ELSE rate_windows.count + 1
			END,
			expires_at = CASE
				WHEN rate_windows.expires_at IS NOT NULL AND rate_windows.expires_at <= ? THEN NULL
				ELSE rate_windows.expires_at
			END
		RETURNING count`, key, now, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", key, err)
	}
	return count, nil
}

func (c *SQLiteCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	expiresAt := c.clock.Now().Add(ttl).UnixMilli()
	if _, err := c.db.ExecContext(ctx,
		`UPDATE rate_windows SET expires_at = ? WHERE key = ?`, expiresAt, key); err != nil {
		return fmt.Errorf("setting expiry of counter %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes counters whose window has passed and returns how many
// were removed.
func (c *SQLiteCounterStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM rate_windows WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		c.clock.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging expired counters: %w", err)
	}
	return res.RowsAffected()
}
