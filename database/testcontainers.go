package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

var (
	dbName = "testdb"
	dbUser = "testuser"
	dbPass = "testpass"
)

// SetupTestDB creates a Postgres container using testcontainers, runs the
// migrations and returns a pool connected to it.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	pool, _, cleanup := SetupTestDBWithConnString(t)
	return pool, cleanup
}

// SetupTestDBWithConnString is SetupTestDB that also returns the connection
// string, for tests that open their own connections.
func SetupTestDBWithConnString(t *testing.T) (*pgxpool.Pool, string, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	require.NoError(t, err)

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Exercise the full migration chain in both directions.
	require.NoError(t, MigrateUp(connStr))
	require.NoError(t, MigrateDown(connStr, 0))
	require.NoError(t, MigrateUp(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanupFunc := func() {
		pool.Close()
		tc.CleanupContainer(t, postgresContainer)
	}

	return pool, connStr, cleanupFunc
}
