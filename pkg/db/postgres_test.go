package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDB_PostgresExecutor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	url := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	exec, err := Open(ctx, Config{Logger: testLogger(), URL: url})
	require.NoError(t, err)
	defer exec.Close()

	pg := exec.(*PostgresExecutor)
	_, err = pg.pool.Exec(ctx, `CREATE TABLE orders (order_id int, order_date date, total_amount numeric(10,2))`)
	require.NoError(t, err)
	_, err = pg.pool.Exec(ctx, `INSERT INTO orders VALUES (1, '2023-01-01', 10.25), (2, '2024-01-01', 5.50)`)
	require.NoError(t, err)

	t.Run("numeric values become floats", func(t *testing.T) {
		tbl, err := exec.Query(ctx, "SELECT SUM(total_amount) AS total FROM orders;")
		require.NoError(t, err)
		require.Equal(t, []string{"total"}, tbl.Columns)
		require.Equal(t, 15.75, tbl.Rows[0][0])
	})

	t.Run("writes are rejected", func(t *testing.T) {
		_, err := exec.Query(ctx, "DELETE FROM orders")
		require.Error(t, err)
		require.Contains(t, err.Error(), "read-only")

		tbl, err := exec.Query(ctx, "SELECT COUNT(*) FROM orders")
		require.NoError(t, err)
		require.Equal(t, int64(2), tbl.Rows[0][0])
	})

	t.Run("schema", func(t *testing.T) {
		schema, err := exec.FetchSchema(ctx)
		require.NoError(t, err)
		require.Contains(t, schema, "orders:\n  - order_id (integer)\n  - order_date (date)\n  - total_amount (numeric)\n")
	})
}
