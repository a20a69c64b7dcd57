package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

const sqliteSchemaQuery = `
	SELECT m.name, p.name, p.type
	FROM sqlite_master m
	JOIN pragma_table_info(m.name) p
	WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
	ORDER BY m.name, p.cid
`

const duckdbSchemaQuery = `
	SELECT table_name, column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = current_schema()
	ORDER BY table_name, ordinal_position
`

// duckdbReadOnlyDSN opens file databases in read-only mode. In-memory
// databases cannot be opened read-only and rely on the rolled-back transaction.
func duckdbReadOnlyDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "access_mode=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "access_mode=READ_ONLY"
}

// SQLExecutor runs statements through database/sql. It serves the embedded
// engines (SQLite, DuckDB) whose drivers register with database/sql.
type SQLExecutor struct {
	log         *slog.Logger
	db          *sql.DB
	backend     Backend
	schemaQuery string
	timeout     time.Duration
}

func newSQLExecutor(ctx context.Context, cfg Config, backend Backend, driverName, dsn, schemaQuery string) (*SQLExecutor, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to open %s database: %w", backend, err)}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", backend, err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConns))
	return NewSQLExecutor(cfg.Logger, db, backend, schemaQuery, cfg.QueryTimeout), nil
}

// NewSQLExecutor wraps an open *sql.DB. schemaQuery must return
// (table, column, type) rows.
func NewSQLExecutor(log *slog.Logger, db *sql.DB, backend Backend, schemaQuery string, timeout time.Duration) *SQLExecutor {
	return &SQLExecutor{log: log, db: db, backend: backend, schemaQuery: schemaQuery, timeout: timeout}
}

// NewSQLiteExecutor wraps an open SQLite handle.
func NewSQLiteExecutor(log *slog.Logger, db *sql.DB, timeout time.Duration) *SQLExecutor {
	return NewSQLExecutor(log, db, BackendSQLite, sqliteSchemaQuery, timeout)
}

func (e *SQLExecutor) Backend() Backend { return e.backend }

func (e *SQLExecutor) Query(ctx context.Context, sql string) (*table.Table, error) {
	start := time.Now()
	tbl, err := e.query(ctx, sql)
	observeQuery(e.backend, start, err)
	return tbl, err
}

func (e *SQLExecutor) query(ctx context.Context, query string) (*table.Table, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if e.backend == BackendSQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = 1"); err != nil {
			return nil, fmt.Errorf("failed to make connection read-only: %w", err)
		}
		defer e.releaseQueryOnly(conn)
	}

	// Every statement runs in a transaction that is never committed.
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, cleanSQL(query))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, normalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table.New(columns, out), nil
}

// releaseQueryOnly restores writes on a pooled connection so handles shared
// with other code keep working. A connection that cannot be restored is
// dropped from the pool.
func (e *SQLExecutor) releaseQueryOnly(conn *sql.Conn) {
	if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = 0"); err != nil {
		e.log.Warn("db: failed to reset query_only, discarding connection", "error", err)
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

func (e *SQLExecutor) FetchSchema(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, e.schemaQuery)
	if err != nil {
		return "", fmt.Errorf("failed to query schema: %w", err)
	}
	defer rows.Close()

	cols, err := scanColumns(rows.Next, rows.Scan, rows.Err)
	if err != nil {
		return "", err
	}
	return formatSchema(cols), nil
}

func (e *SQLExecutor) Close() error {
	return e.db.Close()
}
