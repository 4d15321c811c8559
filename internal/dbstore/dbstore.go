// Package dbstore owns the single relational database connection pool
// Heksher is built around (spec.md §5: "one process fronts one
// relational database; concurrency safety is delegated to transactional
// isolation"). It provides the serializable-transaction-with-retry and
// read-committed-snapshot helpers every other store package builds on,
// generalizing the teacher's apply.Applier connect/transaction shape.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DB wraps a *sql.DB with the transaction helpers the rest of Heksher's
// store packages use. It never caches rows in process memory (spec.md
// §5's "no in-process mutable caches" policy).
type DB struct {
	*sql.DB
}

// Open connects to dsn and pings it, mirroring apply.Applier.Connect.
func Open(ctx context.Context, dsn string) (*DB, error) {
	raw, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open connection: %w", err)
	}
	if err := raw.PingContext(ctx); err != nil {
		if closeErr := raw.Close(); closeErr != nil {
			return nil, fmt.Errorf("dbstore: ping failed: %w; additionally failed to close: %w", err, closeErr)
		}
		return nil, fmt.Errorf("dbstore: ping failed: %w", err)
	}
	return &DB{DB: raw}, nil
}

const maxSerializationRetries = 5

// WithSerializableTx runs fn inside a SERIALIZABLE transaction, retrying
// with jittered backoff on a transaction-serialization failure (spec.md
// §5). Any other error, or exhausting the retry budget, aborts and
// rolls back without partial mutation (spec.md §7).
func (db *DB) WithSerializableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxSerializationRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * 5 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := db.runTx(ctx, sql.LevelSerializable, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("dbstore: exhausted retries after serialization conflicts: %w", lastErr)
}

// WithReadCommittedTx runs fn inside a READ COMMITTED transaction, used
// for the query engine's single consistent read snapshot (spec.md §4.5,
// §5). It does not retry: readers don't need to re-observe a moving
// target, they need one consistent view.
func (db *DB) WithReadCommittedTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.runTx(ctx, sql.LevelReadCommitted, fn)
}

func (db *DB) runTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: level})
	if err != nil {
		return fmt.Errorf("dbstore: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("dbstore: %w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbstore: commit transaction: %w", err)
	}
	return nil
}

// isSerializationFailure reports whether err is a MySQL error that is
// safe and sensible to retry: a detected deadlock or a lock-wait
// timeout, both surfaced by the driver as *mysql.MySQLError.
func isSerializationFailure(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1213, // ER_LOCK_DEADLOCK
			1205: // ER_LOCK_WAIT_TIMEOUT
			return true
		}
	}
	return false
}
