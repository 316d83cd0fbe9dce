package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

var (
	// ErrNotAcquired is returned by Run when another process holds the lock.
	ErrNotAcquired = errors.New("distlock: lock held elsewhere")
	// ErrNotHeld is returned when extending a lock this process no longer owns.
	ErrNotHeld = errors.New("distlock: lock not held")
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// Extender is implemented by locks whose hold expires on its own.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Run acquires lock, calls fn and releases the lock afterwards. It returns
// ErrNotAcquired without calling fn when the lock is taken.
func Run(ctx context.Context, lock DistLock, fn func(ctx context.Context) error) error {
	return RunKeepAlive(ctx, lock, 0, fn)
}

// RunKeepAlive is Run for jobs that may outlive the lock TTL. While fn runs
// the lock is extended to ttl every ttl/3. If the lock is lost, fn's
// context is cancelled and ErrNotHeld is returned. Locks that are not an
// Extender, or a zero ttl, behave like Run.
func RunKeepAlive(ctx context.Context, lock DistLock, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		// Release even if ctx was cancelled mid-run.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(relCtx); err != nil {
			logger.Warn("distlock: release failed", "error", err)
		}
	}()

	ext, ok := lock.(Extender)
	if !ok || ttl <= 0 {
		return fn(ctx)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				err := ext.Extend(runCtx, ttl)
				if errors.Is(err, ErrNotHeld) {
					cancel(ErrNotHeld)
					return
				}
				if err != nil {
					logger.Warn("distlock: extend failed", "error", err)
				}
			}
		}
	}()

	err = fn(runCtx)
	close(done)
	<-stopped
	if errors.Is(context.Cause(runCtx), ErrNotHeld) {
		return ErrNotHeld
	}
	return err
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
