package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/docflow/backend/pkg/constants"
)

// txContextKey is the key for storing transaction in context
type txContextKey struct{}

// Executor abstracts *sql.DB and *sql.Tx so repositories can run inside or
// outside a transaction transparently.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TransactionManager runs units of work against the relational store with
// automatic deadlock retry. The open transaction travels in the context so
// every repository call inside the closure participates in it.
type TransactionManager struct {
	db *sql.DB
}

// NewTransactionManager creates a new TransactionManager
func NewTransactionManager(db *sql.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// RunInTransaction executes fn inside a single transaction. The transaction
// is rolled back if fn returns an error or panics, committed otherwise.
// Deadlocks are retried with exponential backoff; decision transactions
// contend on step row locks, so occasional deadlocks are expected.
func (tm *TransactionManager) RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < constants.TxMaxRetries; attempt++ {
		err := tm.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isDeadlock(err) {
			return err
		}
		if attempt < constants.TxMaxRetries-1 {
			backoff := time.Millisecond * time.Duration(100*(1<<uint(attempt)))
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", constants.TxMaxRetries, lastErr)
}

func (tm *TransactionManager) runOnce(ctx context.Context, fn func(txCtx context.Context) error) error {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on panic
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txCtx := context.WithValue(ctx, txContextKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExtractTx extracts a transaction from the context, nil if none is open.
func ExtractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executorFor returns the context's transaction if present, or the DB handle.
func executorFor(ctx context.Context, db *sql.DB) Executor {
	if tx := ExtractTx(ctx); tx != nil {
		return tx
	}
	return db
}

// isDeadlock checks if an error is a deadlock error.
// MySQL/TiDB deadlock error codes:
// - 1213: Deadlock found when trying to get lock
// - 1205: Lock wait timeout exceeded
func isDeadlock(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "deadlock") ||
		strings.Contains(errMsg, "lock wait timeout") ||
		strings.Contains(errMsg, "1213") ||
		strings.Contains(errMsg, "1205")
}
