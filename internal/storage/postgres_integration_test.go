//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const pgPort = nat.Port("5432/tcp")

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(pgPort)},
		Env: map[string]string{
			"POSTGRES_USER":     "dfs",
			"POSTGRES_PASSWORD": "dfs",
			"POSTGRES_DB":       "dfs",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(pgPort),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(60 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, pgPort)
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://dfs:dfs@%s:%s/dfs?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, NewPostgresKV(pool, "", 0).EnsureSchema(ctx))
	return pool
}

func TestPostgresKV_Integration(t *testing.T) {
	pool := startPostgres(t)
	n := 0

	runKVSuite(t, func(t *testing.T, quota int64) (KV, KV) {
		// Fresh origins per subtest keep the shared table partitioned.
		n++
		a := fmt.Sprintf("origin-a-%d", n)
		b := fmt.Sprintf("origin-b-%d", n)
		return NewPostgresKV(pool, a, quota), NewPostgresKV(pool, b, quota)
	})
}
