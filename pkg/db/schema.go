package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type columnInfo struct {
	Table string
	Name  string
	Type  string
}

// formatSchema renders columns, grouped by consecutive table, as
//
//	orders:
//	  - order_date (date)
func formatSchema(columns []columnInfo) string {
	var sb strings.Builder
	currentTable := ""
	for _, col := range columns {
		if col.Table != currentTable {
			if currentTable != "" {
				sb.WriteString("\n")
			}
			currentTable = col.Table
			sb.WriteString(col.Table + ":\n")
		}
		sb.WriteString("  - " + col.Name + " (" + col.Type + ")\n")
	}
	return sb.String()
}

const schemaCacheKey = "schema"

// CachingSchemaFetcher serves schema snapshots from a TTL cache in front of
// another fetcher.
type CachingSchemaFetcher struct {
	log   *slog.Logger
	next  SchemaFetcher
	cache *ttlcache.Cache[string, string]
}

// NewCachingSchemaFetcher wraps next. A non-positive ttl disables caching and
// returns next unchanged.
func NewCachingSchemaFetcher(log *slog.Logger, next SchemaFetcher, ttl time.Duration) SchemaFetcher {
	if ttl <= 0 {
		return next
	}
	return &CachingSchemaFetcher{
		log:   log,
		next:  next,
		cache: ttlcache.New(ttlcache.WithTTL[string, string](ttl)),
	}
}

func (f *CachingSchemaFetcher) FetchSchema(ctx context.Context) (string, error) {
	if item := f.cache.Get(schemaCacheKey); item != nil {
		return item.Value(), nil
	}
	schema, err := f.next.FetchSchema(ctx)
	if err != nil {
		return "", err
	}
	f.cache.Set(schemaCacheKey, schema, ttlcache.DefaultTTL)
	f.log.Debug("db: schema cached", "bytes", len(schema))
	return schema, nil
}

// Invalidate drops the cached snapshot.
func (f *CachingSchemaFetcher) Invalidate() {
	f.cache.Delete(schemaCacheKey)
}

func scanColumns(next func() bool, scan func(dest ...any) error, rowsErr func() error) ([]columnInfo, error) {
	var cols []columnInfo
	for next() {
		var c columnInfo
		if err := scan(&c.Table, &c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rowsErr(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}
	return cols, nil
}
