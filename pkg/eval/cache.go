package eval

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

const DefaultGoldCacheTTL = 10 * time.Minute

// GoldCache holds gold-query results per target so repeated evaluations over
// the same split do not re-run every gold query. Only successful results are
// cached; an entry costs one unit per row.
type GoldCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewGoldCache(ttl time.Duration) (*GoldCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create gold cache: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultGoldCacheTTL
	}
	return &GoldCache{cache: cache, ttl: ttl}, nil
}

func goldKey(target, sql string) string {
	return target + "\x00" + sql
}

func (c *GoldCache) Get(target, sql string) (*table.Table, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(goldKey(target, sql))
	if !ok {
		return nil, false
	}
	return val.(*table.Table), true
}

func (c *GoldCache) Set(target, sql string, t *table.Table) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(goldKey(target, sql), t, int64(1+t.Len()), c.ttl)
	c.cache.Wait()
}

func (c *GoldCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
