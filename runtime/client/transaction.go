package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/satishbabariya/recordkit/activerecord"
	"github.com/satishbabariya/recordkit/connection"
	"github.com/satishbabariya/recordkit/query/cache"
	"github.com/satishbabariya/recordkit/query/executor"
	"github.com/satishbabariya/recordkit/query/sqlgen"
)

// IsolationLevel represents transaction isolation levels
type IsolationLevel int

const (
	// ReadCommitted prevents dirty reads (default)
	ReadCommitted IsolationLevel = iota
	// ReadUncommitted allows dirty reads
	ReadUncommitted
	// RepeatableRead prevents dirty reads and non-repeatable reads
	RepeatableRead
	// Serializable prevents dirty reads, non-repeatable reads, and phantom reads
	Serializable
)

// ToSQLIsolationLevel converts IsolationLevel to sql.IsolationLevel
func (level IsolationLevel) ToSQLIsolationLevel() sql.IsolationLevel {
	switch level {
	case ReadUncommitted:
		return sql.LevelReadUncommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

// NewTxOptions creates sql.TxOptions from isolation level
func NewTxOptions(isolation IsolationLevel, readOnly bool) *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: isolation.ToSQLIsolationLevel(),
		ReadOnly:  readOnly,
	}
}

// Tx is a transaction on one connection. Models obtained from it run inside
// the transaction and cache totals privately; the client's count cache is
// invalidated for their tables on commit.
type Tx struct {
	*sql.Tx
	client *Client
	conn   *connection.Handle
	exec   *executor.Executor
	depth  int
	counts *cache.LRUCache
	tables map[string]bool
}

// txCountEntries bounds the private count cache of one transaction
const txCountEntries = 256

// TransactionFunc is a function that runs within a transaction
type TransactionFunc func(tx *Tx) error

// Transaction runs fn in a transaction on the named connection. The
// transaction commits when fn returns nil and rolls back on error or panic.
func (c *Client) Transaction(ctx context.Context, conn string, fn TransactionFunc) error {
	return c.TransactionWithOptions(ctx, conn, nil, fn)
}

// TransactionWithOptions is Transaction with explicit isolation settings
func (c *Client) TransactionWithOptions(ctx context.Context, conn string, opts *sql.TxOptions, fn TransactionFunc) error {
	h, err := c.Connection(ctx, conn)
	if err != nil {
		return err
	}
	sqlTx, err := h.DB.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{
		Tx:     sqlTx,
		client: c,
		conn:   h,
		exec:   h.Executor.WithDB(sqlTx),
		counts: cache.NewLRUCache(txCountEntries),
		tables: make(map[string]bool),
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx.forgetCounts(c.counts)
	return nil
}

// forgetCounts orphans the totals of every table touched through tx in store
func (tx *Tx) forgetCounts(store cache.Store) {
	for table := range tx.tables {
		activerecord.InvalidateCounts(store, table)
	}
}

// TransactionWithIsolation executes a transaction with a specific isolation level
func (c *Client) TransactionWithIsolation(ctx context.Context, conn string, isolation IsolationLevel, fn TransactionFunc) error {
	return c.TransactionWithOptions(ctx, conn, NewTxOptions(isolation, false), fn)
}

// ReadOnlyTransaction executes a read-only transaction
func (c *Client) ReadOnlyTransaction(ctx context.Context, conn string, fn TransactionFunc) error {
	return c.TransactionWithOptions(ctx, conn, &sql.TxOptions{ReadOnly: true}, fn)
}

// Executor returns the executor bound to the transaction
func (tx *Tx) Executor() *executor.Executor { return tx.exec }

// Model binds desc to the transaction. desc must live on the transaction's
// connection.
func (tx *Tx) Model(desc *activerecord.Descriptor, opts ...activerecord.ModelOption) (*activerecord.Model, error) {
	if name := desc.Connection(); name != "" && name != tx.conn.Name {
		return nil, fmt.Errorf("%s uses connection %q, transaction is on %q", desc.Table(), name, tx.conn.Name)
	}
	if _, ok := tx.client.registry.Lookup(desc.Table()); !ok {
		tx.client.registry.Register(desc)
	}
	tx.tables[desc.Table()] = true
	base := append(tx.client.modelOptions(),
		activerecord.WithCountStore(tx.counts, tx.client.Config().Cache.TTL))
	m := activerecord.NewModel(desc, tx.conn, append(base, opts...)...)
	return m.WithTx(tx.Tx), nil
}

// NestedTransaction runs fn behind a savepoint. An error rolls back to the
// savepoint and leaves the outer transaction usable.
func (tx *Tx) NestedTransaction(ctx context.Context, fn TransactionFunc) error {
	tx.depth++
	defer func() { tx.depth-- }()
	savepoint := tx.conn.Dialect.QuoteIdentifier(fmt.Sprintf("sp_%d", tx.depth))

	if _, err := tx.exec.Exec(ctx, sqlgen.Statement{SQL: "SAVEPOINT " + savepoint}); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if _, rbErr := tx.exec.Exec(ctx, sqlgen.Statement{SQL: "ROLLBACK TO SAVEPOINT " + savepoint}); rbErr != nil {
			return fmt.Errorf("nested transaction error: %v, rollback error: %w", err, rbErr)
		}
		tx.forgetCounts(tx.counts)
		return err
	}
	if _, err := tx.exec.Exec(ctx, sqlgen.Statement{SQL: "RELEASE SAVEPOINT " + savepoint}); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}
