// Package db executes read-only SQL against the configured relational backend
// and describes its schema.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

// Querier runs a SQL statement and materializes its result.
type Querier interface {
	Query(ctx context.Context, sql string) (*table.Table, error)
}

// SchemaFetcher returns a textual snapshot of the available tables and columns.
type SchemaFetcher interface {
	FetchSchema(ctx context.Context) (string, error)
}

// Executor is a connected backend.
type Executor interface {
	Querier
	SchemaFetcher
	Backend() Backend
	Close() error
}

// Backend identifies a database engine.
type Backend string

const (
	BackendPostgres   Backend = "postgres"
	BackendClickHouse Backend = "clickhouse"
	BackendSQLite     Backend = "sqlite"
	BackendDuckDB     Backend = "duckdb"
)

// Dialect is the SQL dialect name given to the oracle for b.
func (b Backend) Dialect() string {
	switch b {
	case BackendPostgres:
		return "PostgreSQL"
	case BackendClickHouse:
		return "ClickHouse"
	case BackendSQLite:
		return "SQLite"
	case BackendDuckDB:
		return "DuckDB"
	}
	return string(b)
}

const (
	DefaultQueryTimeout    = 30 * time.Second
	DefaultConnectAttempts = 5
)

// Config configures Open.
type Config struct {
	Logger          *slog.Logger
	URL             string
	QueryTimeout    time.Duration
	ConnectAttempts uint
	MaxConns        int32
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if cfg.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must be non-negative")
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	return nil
}

// ParseURL resolves the backend for a database URL and returns the DSN the
// backend driver expects.
func ParseURL(raw string) (Backend, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("database URL is required")
	}
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("invalid postgres URL: %w", err)
		}
		if parsed.Host == "" {
			return "", "", fmt.Errorf("postgres URL must include a host")
		}
		return BackendPostgres, raw, nil
	case strings.HasPrefix(raw, "clickhouse://"):
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("invalid clickhouse URL: %w", err)
		}
		if parsed.Host == "" {
			return "", "", fmt.Errorf("clickhouse URL must include a host")
		}
		return BackendClickHouse, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL path cannot be empty")
		}
		return BackendSQLite, path, nil
	case strings.HasPrefix(raw, "file:"):
		return BackendSQLite, raw, nil
	case strings.HasPrefix(raw, "duckdb://"):
		return BackendDuckDB, strings.TrimPrefix(raw, "duckdb://"), nil
	}
	return "", "", fmt.Errorf("database URL must start with postgres://, postgresql://, clickhouse://, sqlite://, file:, or duckdb:// (got: %q)", Redact(raw))
}

// Open connects to the backend named by cfg.URL, retrying the initial ping
// with exponential backoff.
func Open(ctx context.Context, cfg Config) (Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate db config: %w", err)
	}
	backend, dsn, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	attempt := 0
	exec, err := backoff.Retry(ctx, func() (Executor, error) {
		if attempt > 0 {
			cfg.Logger.Warn("db: connect failed, retrying", "backend", backend, "attempt", attempt)
		}
		attempt++
		exec, err := open(ctx, cfg, backend, dsn)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return nil, backoff.Permanent(perm.err)
			}
			return nil, err
		}
		return exec, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.ConnectAttempts))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", backend, err)
	}
	cfg.Logger.Info("db: connected", "backend", backend, "url", Redact(cfg.URL))
	return exec, nil
}

func open(ctx context.Context, cfg Config, backend Backend, dsn string) (Executor, error) {
	switch backend {
	case BackendPostgres:
		return newPostgresExecutor(ctx, cfg, dsn)
	case BackendClickHouse:
		return newClickHouseExecutor(ctx, cfg, dsn)
	case BackendSQLite:
		return newSQLExecutor(ctx, cfg, BackendSQLite, "sqlite", dsn, sqliteSchemaQuery)
	case BackendDuckDB:
		return newSQLExecutor(ctx, cfg, BackendDuckDB, "duckdb", duckdbReadOnlyDSN(dsn), duckdbSchemaQuery)
	}
	return nil, &permanentError{fmt.Errorf("unsupported backend %q", backend)}
}

// permanentError marks a connect failure that retrying cannot fix, such as a
// malformed DSN.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Redact hides the password component of a URL for logging.
func Redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	return parsed.Redacted()
}

// cleanSQL trims whitespace and trailing semicolons.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
