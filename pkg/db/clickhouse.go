package db

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

const (
	clickhouseDialTimeout      = 5 * time.Second
	clickhouseMaxExecutionTime = 60
)

const clickhouseSchemaQuery = `
	SELECT table, name, type
	FROM system.columns
	WHERE database = currentDatabase()
	ORDER BY table, position
`

// ClickHouseExecutor runs statements over the native protocol.
type ClickHouseExecutor struct {
	log     *slog.Logger
	conn    driver.Conn
	timeout time.Duration
}

func newClickHouseExecutor(ctx context.Context, cfg Config, dsn string) (*ClickHouseExecutor, error) {
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to parse clickhouse DSN: %w", err)}
	}
	if options.Settings == nil {
		options.Settings = clickhouse.Settings{}
	}
	// readonly=2 rejects writes but still lets the client send max_execution_time.
	options.Settings["readonly"] = 2
	options.Settings["max_execution_time"] = clickhouseMaxExecutionTime
	if options.DialTimeout == 0 {
		options.DialTimeout = clickhouseDialTimeout
	}
	options.MaxOpenConns = int(cfg.MaxConns)

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return NewClickHouseExecutor(cfg.Logger, conn, cfg.QueryTimeout), nil
}

// NewClickHouseExecutor wraps an open connection.
func NewClickHouseExecutor(log *slog.Logger, conn driver.Conn, timeout time.Duration) *ClickHouseExecutor {
	return &ClickHouseExecutor{log: log, conn: conn, timeout: timeout}
}

func (e *ClickHouseExecutor) Backend() Backend { return BackendClickHouse }

func (e *ClickHouseExecutor) Query(ctx context.Context, sql string) (*table.Table, error) {
	start := time.Now()
	tbl, err := e.query(ctx, sql)
	observeQuery(BackendClickHouse, start, err)
	return tbl, err
}

func (e *ClickHouseExecutor) query(ctx context.Context, sql string) (*table.Table, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.conn.Query(ctx, cleanSQL(sql))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	var out [][]any
	for rows.Next() {
		dest := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		// dest holds pointers; normalize dereferences them.
		out = append(out, normalizeRow(dest))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table.New(rows.Columns(), out), nil
}

func (e *ClickHouseExecutor) FetchSchema(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.conn.Query(ctx, clickhouseSchemaQuery)
	if err != nil {
		return "", fmt.Errorf("failed to query system.columns: %w", err)
	}
	defer rows.Close()

	cols, err := scanColumns(rows.Next, rows.Scan, rows.Err)
	if err != nil {
		return "", err
	}
	return formatSchema(cols), nil
}

func (e *ClickHouseExecutor) Close() error {
	return e.conn.Close()
}
