package core

import (
	"context"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Statement is one parameterized SQL statement.
type Statement struct {
	// SQL is the statement text using $n placeholders.
	SQL string

	// Args are the values bound to the placeholders, in order.
	Args []any
}

// Querier executes statements on a pool or inside a transaction.
type Querier interface {
	// Query executes a statement and returns all rows.
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)

	// Exec executes a statement and returns the affected row count.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Transaction is a unit of work on one connection.
type Transaction interface {
	Querier

	// Batch submits statements in one round trip.
	Batch(ctx context.Context, stmts []Statement) error

	// Commit commits the transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Rolling back a finished transaction
	// is a no-op.
	Rollback(ctx context.Context) error
}

// Database is the SQL client the adapter consumes.
type Database interface {
	Querier

	// Batch submits statements in one round trip inside an implicit transaction.
	Batch(ctx context.Context, stmts []Statement) error

	// BeginTx starts a transaction.
	BeginTx(ctx context.Context) (Transaction, error)

	// Close releases all connections.
	Close()
}

// InTransaction runs fn inside a transaction begun on db, committing when
// fn succeeds and rolling back otherwise.
func InTransaction(ctx context.Context, db Database, fn func(tx Transaction) error) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
