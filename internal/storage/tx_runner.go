package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxRunner executes a function inside one database transaction. Every session
// transition, reset firing and reconciliation decision goes through this so
// session mutation, counter update and ledger write commit together or not at
// all.
type TxRunner struct {
	db *PostgresDB
}

// NewTxRunner creates a transaction runner over the given database
func NewTxRunner(db *PostgresDB) *TxRunner {
	return &TxRunner{db: db}
}

// InTx runs fn inside a transaction, rolling back on error or panic
func (t *TxRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := t.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		// no-op when the transaction already committed
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
