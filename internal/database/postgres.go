// Package database implements the SQL client on pgx and translates
// backend errors.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// ErrDatabaseClosed is returned by every call after Close.
var ErrDatabaseClosed = errors.New("database is closed")

// PoolConfig configures the connection pool.
type PoolConfig struct {
	// URI is the connection string.
	URI string

	// MaxConns caps the pool size.
	MaxConns int32

	// MinConns keeps idle connections open.
	MinConns int32

	// MaxConnLifetime recycles connections older than this.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime closes connections idle longer than this.
	MaxConnIdleTime time.Duration

	// HealthCheckPeriod is the interval between idle connection checks.
	HealthCheckPeriod time.Duration
}

// queryer is what a pool and a transaction have in common.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresDatabase implements core.Database on a pgx pool.
type PostgresDatabase struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	closed atomic.Bool
}

var _ core.Database = (*PostgresDatabase)(nil)

// NewPostgresDatabase opens a pool and pings the server.
func NewPostgresDatabase(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*PostgresDatabase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database uri: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresDatabaseFromPool(pool, logger), nil
}

// NewPostgresDatabaseFromPool wraps an existing pool.
func NewPostgresDatabaseFromPool(pool *pgxpool.Pool, logger *slog.Logger) *PostgresDatabase {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDatabase{pool: pool, logger: logger.With("component", "database")}
}

// Pool returns the underlying pool.
func (p *PostgresDatabase) Pool() *pgxpool.Pool {
	return p.pool
}

// Query executes a statement and returns all rows.
func (p *PostgresDatabase) Query(ctx context.Context, sql string, args ...any) ([]core.Row, error) {
	if p.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	return queryRows(ctx, p.pool, p.logger, sql, args)
}

// Exec executes a statement and returns the affected row count.
func (p *PostgresDatabase) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if p.closed.Load() {
		return 0, ErrDatabaseClosed
	}
	return execStatement(ctx, p.pool, p.logger, sql, args)
}

// Batch submits statements in one round trip.
func (p *PostgresDatabase) Batch(ctx context.Context, stmts []core.Statement) error {
	if p.closed.Load() {
		return ErrDatabaseClosed
	}
	return sendBatch(ctx, p.pool, p.logger, stmts)
}

// BeginTx starts a new transaction.
func (p *PostgresDatabase) BeginTx(ctx context.Context) (core.Transaction, error) {
	if p.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTransaction{tx: tx, logger: p.logger}, nil
}

// Close closes every pooled connection.
func (p *PostgresDatabase) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.pool.Close()
}

type postgresTransaction struct {
	tx     pgx.Tx
	logger *slog.Logger
}

func (t *postgresTransaction) Query(ctx context.Context, sql string, args ...any) ([]core.Row, error) {
	return queryRows(ctx, t.tx, t.logger, sql, args)
}

func (t *postgresTransaction) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return execStatement(ctx, t.tx, t.logger, sql, args)
}

func (t *postgresTransaction) Batch(ctx context.Context, stmts []core.Statement) error {
	return sendBatch(ctx, t.tx, t.logger, stmts)
}

func (t *postgresTransaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTransaction) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func queryRows(ctx context.Context, q queryer, logger *slog.Logger, sql string, args []any) ([]core.Row, error) {
	logger.Debug("query", "sql", sql, "args", len(args))
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []core.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(core.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func execStatement(ctx context.Context, q queryer, logger *slog.Logger, sql string, args []any) (int64, error) {
	logger.Debug("exec", "sql", sql, "args", len(args))
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func sendBatch(ctx context.Context, q queryer, logger *slog.Logger, stmts []core.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	logger.Debug("batch", "statements", len(stmts))
	batch := &pgx.Batch{}
	for _, s := range stmts {
		batch.Queue(s.SQL, s.Args...)
	}
	results := q.SendBatch(ctx, batch)
	var firstErr error
	for range stmts {
		if _, err := results.Exec(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
