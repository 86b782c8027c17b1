package upstream

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Decision is the outcome of one limiter consultation.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter bounds the outbound request rate shared by every concurrent
// caller. Implementations must be safe for concurrent use.
type RateLimiter interface {
	TryAcquire(ctx context.Context) (Decision, error)
}

// SlidingWindowLimiter keeps the timestamps of requests admitted during the
// last Window and admits a new one only while fewer than Limit remain.
// Single-process; use PostgresRateLimiter when workers span processes.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time
	now    func() time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *SlidingWindowLimiter) TryAcquire(context.Context) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	if len(l.stamps) >= l.limit {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   l.stamps[0].Add(l.window),
		}, nil
	}
	l.stamps = append(l.stamps, now)
	return Decision{
		Allowed:   true,
		Remaining: l.limit - len(l.stamps),
		ResetAt:   l.stamps[0].Add(l.window),
	}, nil
}

func (l *SlidingWindowLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
}

const (
	rateLimitTableName        = "docketsync_rate_window"
	rateLimitOperationTimeout = 5 * time.Second
	rateLimitAdvisoryLockKey  = int64(0x646f636b6c696d74)
)

// PostgresRateLimiter enforces the same sliding window through a shared
// table so that reconciliation workers in separate processes cannot jointly
// exceed the upstream quota. Each admission is a row; the whole
// prune-count-insert step runs under an advisory transaction lock.
type PostgresRateLimiter struct {
	dsn    string
	limit  int
	window time.Duration

	initOnce sync.Once
	initErr  error
	db       *sql.DB
	openDB   func(driverName, dsn string) (*sql.DB, error)
	now      func() time.Time
}

func NewPostgresRateLimiter(dsn string, limit int, window time.Duration) (*PostgresRateLimiter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("rate limiter dsn is required")
	}
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &PostgresRateLimiter{
		dsn:    dsn,
		limit:  limit,
		window: window,
		openDB: sql.Open,
		now:    time.Now,
	}, nil
}

func (l *PostgresRateLimiter) TryAcquire(ctx context.Context) (Decision, error) {
	if err := l.ensureReady(); err != nil {
		return Decision{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, rateLimitOperationTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(opCtx, nil)
	if err != nil {
		return Decision{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(opCtx, "SELECT pg_advisory_xact_lock($1)", rateLimitAdvisoryLockKey); err != nil {
		return Decision{}, err
	}
	now := l.now().UTC()
	cutoff := now.Add(-l.window)
	if _, err := tx.ExecContext(opCtx,
		fmt.Sprintf("DELETE FROM %s WHERE requested_at <= $1", rateLimitTableName), cutoff); err != nil {
		return Decision{}, err
	}
	var used int
	var oldest sql.NullTime
	if err := tx.QueryRowContext(opCtx,
		fmt.Sprintf("SELECT COUNT(*), MIN(requested_at) FROM %s", rateLimitTableName)).Scan(&used, &oldest); err != nil {
		return Decision{}, err
	}
	if used >= l.limit {
		resetAt := now.Add(l.window)
		if oldest.Valid {
			resetAt = oldest.Time.Add(l.window)
		}
		if err := tx.Commit(); err != nil {
			return Decision{}, err
		}
		committed = true
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	if _, err := tx.ExecContext(opCtx,
		fmt.Sprintf("INSERT INTO %s (requested_at) VALUES ($1)", rateLimitTableName), now); err != nil {
		return Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return Decision{}, err
	}
	committed = true
	resetAt := now.Add(l.window)
	if oldest.Valid {
		resetAt = oldest.Time.Add(l.window)
	}
	return Decision{Allowed: true, Remaining: l.limit - used - 1, ResetAt: resetAt}, nil
}

func (l *PostgresRateLimiter) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *PostgresRateLimiter) ensureReady() error {
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), rateLimitOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				requested_at TIMESTAMPTZ NOT NULL
			)`, rateLimitTableName)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}
