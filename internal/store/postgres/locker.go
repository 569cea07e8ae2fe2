package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

// advisoryLockKey identifies the incident-mutation lock among advisory locks.
// It is not keyed by item: a merge spans the incidents of related items.
const advisoryLockKey int64 = 0x636f7272 // "corr"

// AdvisoryLocker is a store.Locker shared by every process using the
// same database, built on a session-level advisory lock.
type AdvisoryLocker struct {
	db     *DB
	logger *slog.Logger
}

// NewAdvisoryLocker creates a locker on db.
func NewAdvisoryLocker(db *DB, logger *slog.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, logger: logger}
}

// Lock holds a pooled connection until unlock is called.
func (l *AdvisoryLocker) Lock(ctx context.Context) (func(), error) {
	conn, err := l.db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}

	return func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey); err != nil {
			l.logger.Error("failed to release advisory lock", "error", err)
			// Drop the session so the server releases the lock.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}
