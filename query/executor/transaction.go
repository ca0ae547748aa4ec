package executor

import (
	"context"
	"database/sql"
	"fmt"
)

// TxBeginner is implemented by *sql.DB
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// RunInTx runs fn with an executor bound to a new transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (e *Executor) RunInTx(ctx context.Context, fn func(tx *Executor) error) error {
	beginner, ok := e.db.(TxBeginner)
	if !ok {
		return fmt.Errorf("executor handle %T cannot begin transactions", e.db)
	}
	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(e.WithDB(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.ErrorContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
