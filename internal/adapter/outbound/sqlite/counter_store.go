// Package sqlite provides the persistent counter store shared by all API
// processes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
)

// upsertStmt advances or resets a window counter in one atomic statement.
// The CASE guard discards a counter whose window has ended, so a stale count
// is never used to admit or deny. Doing this in a single upsert (rather than
// a read followed by a write) is what prevents two concurrent requests from
// both observing the same pre-increment count and both being admitted past
// the limit.
const upsertStmt = `
INSERT INTO window_counters (key, count, window_end) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    count      = CASE WHEN window_counters.window_end < ? THEN excluded.count ELSE window_counters.count + excluded.count END,
    window_end = CASE WHEN window_counters.window_end < ? THEN excluded.window_end ELSE window_counters.window_end END
RETURNING count, window_end`

// CounterStore implements quota.CounterStore on SQLite. Multiple processes
// sharing one database file get a consistent, linearized view of every
// counter: SQLite serializes writers, and the upsert is a single statement.
//
// Expired rows are reclaimed lazily by the upsert guard; StartSweep
// additionally deletes them in the background to bound table growth.
type CounterStore struct {
	db            *sql.DB
	logger        *slog.Logger
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
	sweepInterval time.Duration
}

// Option is a functional option for configuring the CounterStore.
type Option func(*CounterStore)

// WithLogger sets the logger for sweep and error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *CounterStore) {
		s.logger = logger
	}
}

// WithSweepInterval sets how often expired rows are deleted.
// Default is 5 minutes.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *CounterStore) {
		s.sweepInterval = interval
	}
}

// NewCounterStore opens (or creates) the counter database at the given DSN
// and initialises the schema. Use a shared file path so every API process
// sees the same counters.
func NewCounterStore(dsn string, opts ...Option) (*CounterStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open counter store: %w", err)
	}

	// A single connection serializes all statements through one SQLite
	// handle, which keeps the upsert free of SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("counter store pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS window_counters (
			key        TEXT PRIMARY KEY,
			count      INTEGER NOT NULL,
			window_end INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("counter store schema: %w", err)
	}

	s := &CounterStore{
		db:            db,
		logger:        slog.Default(),
		stopChan:      make(chan struct{}),
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IncrementOrReset atomically advances the counter for key in its current
// window. Store failures and deadline overruns surface as
// quota.ErrStoreUnavailable so callers can fail open.
func (s *CounterStore) IncrementOrReset(ctx context.Context, key string, window time.Duration, delta int64) (int64, time.Time, error) {
	nowMs := time.Now().UnixMilli()
	endMs := nowMs + window.Milliseconds()

	var (
		count       int64
		windowEndMs int64
	)
	err := s.db.QueryRowContext(ctx, upsertStmt,
		key, delta, endMs,
		nowMs,
		nowMs,
	).Scan(&count, &windowEndMs)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: increment %q: %v", quota.ErrStoreUnavailable, key, err)
	}

	return count, time.UnixMilli(windowEndMs), nil
}

// Usage returns the live counter for key without incrementing it.
// A missing or expired row reports a zero count.
func (s *CounterStore) Usage(ctx context.Context, key string) (int64, time.Time, error) {
	var (
		count       int64
		windowEndMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT count, window_end FROM window_counters WHERE key = ? AND window_end >= ?`,
		key, time.Now().UnixMilli(),
	).Scan(&count, &windowEndMs)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: usage %q: %v", quota.ErrStoreUnavailable, key, err)
	}
	return count, time.UnixMilli(windowEndMs), nil
}

// Size reports the number of live (unexpired) counter rows. Used by the
// active-keys gauge; a query failure reports zero rather than failing a
// metrics scrape.
func (s *CounterStore) Size() int {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM window_counters WHERE window_end >= ?`, time.Now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

// StartSweep starts the background goroutine that deletes expired rows.
// It stops when ctx is cancelled or Close() is called.
func (s *CounterStore) StartSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *CounterStore) sweep(ctx context.Context) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM window_counters WHERE window_end < ?`, time.Now().UnixMilli())
	if err != nil {
		s.logger.Warn("counter store sweep failed", "error", err)
		return
	}
	if swept, err := res.RowsAffected(); err == nil && swept > 0 {
		s.logger.Debug("counter store sweep completed", "swept_rows", swept)
	}
}

// Close stops the sweep goroutine and closes the database.
// Safe to call multiple times.
func (s *CounterStore) Close() error {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return s.db.Close()
}

// Compile-time interface verification.
var _ quota.CounterStore = (*CounterStore)(nil)
