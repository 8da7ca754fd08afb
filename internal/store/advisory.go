package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocks serializes work on a file path across every process that
// shares the database. Each lock holds one pooled connection, since
// pg_advisory_lock belongs to the session that took it.
type AdvisoryLocks struct {
	db *pgxpool.Pool
}

// NewAdvisoryLocks creates path locks on the pool.
func NewAdvisoryLocks(db *pgxpool.Pool) *AdvisoryLocks {
	return &AdvisoryLocks{db: db}
}

// Lock blocks until the advisory lock for path is held.
func (a *AdvisoryLocks) Lock(ctx context.Context, path string) (func(), error) {
	conn, err := a.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	key := hashTo64Bit(path)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			// A session we cannot unlock must not go back to the pool.
			conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}

// hashTo64Bit is FNV-1a over the path bytes.
func hashTo64Bit(s string) int64 {
	var h uint64 = 14695981039346656037
	for _, c := range []byte(s) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return int64(h)
}
