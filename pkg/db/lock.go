package db

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrLockTimeout is returned when the advisory lock is still held by another
// session after the configured timeout.
var ErrLockTimeout = errors.New("advisory lock held by another session")

// lockPollInterval is how often a timed acquisition retries
// pg_try_advisory_lock.
const lockPollInterval = 500 * time.Millisecond

// LockKey derives the 64-bit advisory lock key for a history table. Keys are
// stable across processes so concurrent runners managing the same table
// contend on the same lock.
func LockKey(schema, table string) int64 {
	return int64(xxhash.Sum64String(schema + "." + table))
}

// AcquireLock takes the session-level advisory lock identified by key. With
// timeout zero it blocks until the lock is granted. A positive timeout polls
// pg_try_advisory_lock every 500ms and gives up with ErrLockTimeout once the
// timeout elapses.
func (s *Session) AcquireLock(ctx context.Context, key int64, timeout time.Duration) error {
	return acquireLock(ctx, s.Conn, key, timeout, lockPollInterval)
}

// ReleaseLock releases the advisory lock identified by key. Releasing a lock
// the session does not hold is harmless.
func (s *Session) ReleaseLock(ctx context.Context, key int64) error {
	if _, err := s.Exec(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
		return errors.Wrap(err, "releasing advisory lock")
	}

	return nil
}

// locker is the connection surface lock acquisition needs.
type locker interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func acquireLock(ctx context.Context, conn locker, key int64, timeout, poll time.Duration) error {
	if timeout <= 0 {
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
			return errors.Wrap(err, "acquiring advisory lock")
		}

		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		var acquired bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
			return errors.Wrap(err, "acquiring advisory lock")
		}
		if acquired {
			return nil
		}
		if !time.Now().Add(poll).Before(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}
