// Package ratelimit implements the per-endpoint fixed-window counter.
//
// Counters live in their own key-value database (counters.db) keyed by
// (endpoint_id, window_start) with a time-to-live of two windows. The
// increment runs inside a transaction on the tenant's single write
// connection, so two concurrent requests cannot both observe
// count = limit-1 and both pass.
package ratelimit

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mocknest/mocknest/internal/store"
)

// DBFilename is the per-tenant counters database file name.
const DBFilename = "counters.db"

// DefaultWindow is the fixed window size.
const DefaultWindow = 60 * time.Second

// CreateDDL is the DDL for counters.db.
const CreateDDL = `
CREATE TABLE IF NOT EXISTS rate_counters (
	counter_key   TEXT PRIMARY KEY,
	count         INTEGER NOT NULL,
	expires_at_ns INTEGER NOT NULL
);
`

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	// Limit is the configured per-window limit.
	Limit int
	// Remaining is max(0, limit - count-after-increment).
	Remaining int
	// ResetUnix is the epoch second at which the current window ends.
	ResetUnix int64
	// RetryAfterSec is the ceiling of seconds until the window ends.
	RetryAfterSec int64
}

// Limiter owns one tenant's counter database.
type Limiter struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

// Open opens (or creates) the counters database under dir.
// window <= 0 selects DefaultWindow.
func Open(dir string, window time.Duration) (*Limiter, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	db, err := store.OpenDB(filepath.Join(dir, DBFilename))
	if err != nil {
		return nil, err
	}
	if err := store.InitDB(db, CreateDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ratelimit: init ddl: %w", err)
	}
	return &Limiter{db: db, window: window, now: time.Now}, nil
}

// Close closes the counters database.
func (l *Limiter) Close() error { return l.db.Close() }

// SetNowFunc overrides the clock, for tests.
func (l *Limiter) SetNowFunc(now func() time.Time) { l.now = now }

// Allow checks and, if under the limit, consumes one slot in the
// current window for the endpoint. Denials do not consume.
func (l *Limiter) Allow(endpointID string, limit int) (Decision, error) {
	if limit < 1 {
		limit = 1
	}

	now := l.now()
	windowSec := int64(l.window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	windowStart := now.Unix() / windowSec
	key := endpointID + ":" + strconv.FormatInt(windowStart, 10)

	d := Decision{
		Limit:     limit,
		ResetUnix: (windowStart + 1) * windowSec,
	}
	// now.Unix() floors, so this difference is already the ceiling of
	// the remaining fraction of the window.
	d.RetryAfterSec = d.ResetUnix - now.Unix()

	tx, err := l.db.Begin()
	if err != nil {
		return d, fmt.Errorf("ratelimit: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		count     int
		expiresNs int64
	)
	err = tx.QueryRow(`SELECT count, expires_at_ns FROM rate_counters WHERE counter_key = ?`, key).
		Scan(&count, &expiresNs)
	switch {
	case err == sql.ErrNoRows:
		count = 0
	case err != nil:
		return d, fmt.Errorf("ratelimit: read counter: %w", err)
	case expiresNs <= now.UnixNano():
		// Stale row from a clock jump; the sweep normally removes these.
		if _, err := tx.Exec(`DELETE FROM rate_counters WHERE counter_key = ?`, key); err != nil {
			return d, fmt.Errorf("ratelimit: drop stale counter: %w", err)
		}
		count = 0
	}

	if count >= limit {
		d.Allowed = false
		d.Remaining = 0
		if err := tx.Commit(); err != nil {
			return d, fmt.Errorf("ratelimit: commit: %w", err)
		}
		return d, nil
	}

	count++
	expiry := (windowStart + 2) * windowSec * int64(time.Second)
	if _, err := tx.Exec(
		`INSERT INTO rate_counters (counter_key, count, expires_at_ns) VALUES (?, ?, ?)
		 ON CONFLICT(counter_key) DO UPDATE SET count = excluded.count, expires_at_ns = excluded.expires_at_ns`,
		key, count, expiry,
	); err != nil {
		return d, fmt.Errorf("ratelimit: write counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return d, fmt.Errorf("ratelimit: commit: %w", err)
	}

	d.Allowed = true
	d.Remaining = limit - count
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Sweep deletes expired counter rows. Expired rows are also ignored on
// read, so the sweep is hygiene only.
func (l *Limiter) Sweep() (int64, error) {
	res, err := l.db.Exec(`DELETE FROM rate_counters WHERE expires_at_ns <= ?`, l.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("ratelimit: sweep: %w", err)
	}
	return res.RowsAffected()
}
