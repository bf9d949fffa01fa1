// ABOUTME: Transaction executor: all-or-nothing mutation sequences on one pooled connection
// ABOUTME: Commits on success, rolls back on error or panic, always releases the connection

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// withTx acquires a pooled connection, begins a transaction, and runs fn.
// The transaction commits iff fn returns nil; any error or panic rolls it
// back completely, so partial writes are never visible. The connection is
// returned to the pool on every exit path.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	done := false
	defer func() {
		if !done {
			tx.Rollback() //nolint:errcheck // rollback after failure or panic
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	done = true
	return nil
}
