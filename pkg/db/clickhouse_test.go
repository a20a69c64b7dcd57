package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	chcontainer "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

func TestDB_ClickHouseExecutor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping clickhouse container test in short mode")
	}
	ctx := context.Background()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctr, err := chcontainer.Run(ctx, "clickhouse/clickhouse-server:23.3.8.21-alpine",
		chcontainer.WithUsername("bicopilot"),
		chcontainer.WithPassword("clickhouse"),
		chcontainer.WithDatabase("default"),
	)
	if err != nil {
		t.Skipf("clickhouse container unavailable: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("failed to cleanup clickhouse container: %v", err)
		}
	}()

	hostPort, err := ctr.ConnectionHost(ctx)
	require.NoError(t, err)

	admin, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{hostPort},
		Auth: clickhouse.Auth{Database: "default", Username: "bicopilot", Password: "clickhouse"},
	})
	require.NoError(t, err)
	defer admin.Close()
	require.NoError(t, admin.Exec(ctx, `CREATE TABLE orders (order_id UInt32, region String, total_amount Float64) ENGINE = MergeTree ORDER BY order_id`))
	require.NoError(t, admin.Exec(ctx, `INSERT INTO orders VALUES (1, 'east', 10.25), (2, 'west', 5.5), (3, 'east', 1.0)`))

	exec, err := Open(ctx, Config{
		Logger: testLogger(),
		URL:    fmt.Sprintf("clickhouse://bicopilot:clickhouse@%s/default", hostPort),
	})
	require.NoError(t, err)
	defer exec.Close()
	require.Equal(t, BackendClickHouse, exec.Backend())

	t.Run("aggregate", func(t *testing.T) {
		tbl, err := exec.Query(ctx, "SELECT region, SUM(total_amount) AS total FROM orders GROUP BY region ORDER BY region;")
		require.NoError(t, err)
		require.Equal(t, []string{"region", "total"}, tbl.Columns)
		require.Equal(t, 2, tbl.Len())
		require.Equal(t, "east", tbl.Rows[0][0])
		total, ok := table.AsFloat(tbl.Rows[0][1])
		require.True(t, ok)
		require.InDelta(t, 11.25, total, 1e-9)
	})

	t.Run("writes are rejected", func(t *testing.T) {
		_, err := exec.Query(ctx, "INSERT INTO orders VALUES (4, 'north', 2.0)")
		require.Error(t, err)

		tbl, err := exec.Query(ctx, "SELECT count() FROM orders")
		require.NoError(t, err)
		n, ok := table.AsFloat(tbl.Rows[0][0])
		require.True(t, ok)
		require.Equal(t, 3.0, n)
	})

	t.Run("schema", func(t *testing.T) {
		schema, err := exec.FetchSchema(ctx)
		require.NoError(t, err)
		require.Contains(t, schema, "orders:\n  - order_id (UInt32)\n  - region (String)\n  - total_amount (Float64)\n")
	})
}
