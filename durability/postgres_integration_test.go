//go:build integration

package durability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"flowcore.dev/engine/record"
)

func setupPostgresContainer(t *testing.T) (*pgxpool.Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS durability_log (
		    id         BIGSERIAL PRIMARY KEY,
		    table_name TEXT NOT NULL,
		    payload    JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS durability_log_table_idx
		    ON durability_log (table_name, id);
	`)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func TestPostgresLogAppendAndReplay(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	log := OpenPostgres(pool, "orders")
	defer log.Close()

	first, err := log.Append(record.NewDelta(record.Pos(record.Row{record.IntValue(1)})))
	require.NoError(t, err)
	second, err := log.Append(record.NewDelta(record.Pos(record.Row{record.IntValue(2)})))
	require.NoError(t, err)
	require.Greater(t, int64(second), int64(first))

	last, err := log.LastLSN()
	require.NoError(t, err)
	require.Equal(t, second, last)

	var replayed []record.Delta
	err = log.ReplayFrom(first, func(lsn LSN, batch record.Delta) error {
		replayed = append(replayed, batch)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, 2)
}

func TestPostgresLogSeparatesTables(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	orders := OpenPostgres(pool, "orders")
	defer orders.Close()
	users := OpenPostgres(pool, "users")
	defer users.Close()

	_, err := orders.Append(record.NewDelta(record.Pos(record.Row{record.IntValue(1)})))
	require.NoError(t, err)

	var seen int
	err = users.ReplayFrom(0, func(LSN, record.Delta) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, seen)
}
