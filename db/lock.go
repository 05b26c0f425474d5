package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("run is locked by another process")

// Lock is a session-level advisory lock held on a dedicated connection.
type Lock struct {
	conn bun.Conn
	name string
}

// TryLock takes the advisory lock for name without waiting. The lock lives
// as long as the returned connection; call Release when done.
func TryLock(ctx context.Context, db *bun.DB, name string) (*Lock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}

	var ok bool
	if err := conn.NewRaw("SELECT pg_try_advisory_lock(hashtext(?))", name).Scan(ctx, &ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	return &Lock{conn: conn, name: name}, nil
}

// Release drops the lock and returns the connection to the pool.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext(?))", l.name)
	if cerr := l.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
