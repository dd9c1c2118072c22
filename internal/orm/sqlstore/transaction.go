package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// TxManager runs functions inside database transactions
type TxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewTxManager creates a transaction manager using the given isolation level
func NewTxManager(db *sql.DB, level sql.IsolationLevel) *TxManager {
	return &TxManager{db: db, opts: &sql.TxOptions{Isolation: level}}
}

// WithTransaction executes a function within a transaction
// Automatically commits on success or rolls back on error
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", ConvertDBError(err))
	}
	return nil
}
