package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

const postgresSchemaQuery = `
	SELECT table_name, column_name, data_type
	FROM information_schema.columns
	WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
	ORDER BY table_schema, table_name, ordinal_position
`

// PostgresExecutor runs statements on a pgx pool inside read-only transactions
// that are always rolled back.
type PostgresExecutor struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	timeout time.Duration
}

func newPostgresExecutor(ctx context.Context, cfg Config, dsn string) (*PostgresExecutor, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to parse postgres config: %w", err)}
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewPostgresExecutor(cfg.Logger, pool, cfg.QueryTimeout), nil
}

// NewPostgresExecutor wraps an existing pool. The executor does not own it
// beyond Close.
func NewPostgresExecutor(log *slog.Logger, pool *pgxpool.Pool, timeout time.Duration) *PostgresExecutor {
	return &PostgresExecutor{log: log, pool: pool, timeout: timeout}
}

func (e *PostgresExecutor) Backend() Backend { return BackendPostgres }

func (e *PostgresExecutor) Query(ctx context.Context, sql string) (*table.Table, error) {
	start := time.Now()
	tbl, err := e.query(ctx, sql)
	observeQuery(BackendPostgres, start, err)
	return tbl, err
}

func (e *PostgresExecutor) query(ctx context.Context, sql string) (*table.Table, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, cleanSQL(sql))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		out = append(out, normalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table.New(columns, out), nil
}

func (e *PostgresExecutor) FetchSchema(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.pool.Query(ctx, postgresSchemaQuery)
	if err != nil {
		return "", fmt.Errorf("failed to query information_schema: %w", err)
	}
	defer rows.Close()

	cols, err := scanColumns(rows.Next, rows.Scan, rows.Err)
	if err != nil {
		return "", err
	}
	return formatSchema(cols), nil
}

func (e *PostgresExecutor) Close() error {
	e.pool.Close()
	return nil
}
