package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMigrateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "postgres scheme", in: "postgres://u:p@h:5432/db?sslmode=disable", want: "pgx5://u:p@h:5432/db?sslmode=disable"},
		{name: "postgresql scheme", in: "postgresql://u@h/db", want: "pgx5://u@h/db"},
		{name: "already pgx5", in: "pgx5://u@h/db", want: "pgx5://u@h/db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, toMigrateURL(tt.in))
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir("migrations")
	require.NoError(t, err)
	// Every up migration has a matching down migration.
	require.NotEmpty(t, entries)
	require.Zero(t, len(entries)%2)
}

func TestMigrationsRoundTrip(t *testing.T) {
	t.Parallel()

	pool, connStr, cleanup := SetupTestDBWithConnString(t)
	t.Cleanup(cleanup)

	version, dirty, err := GetVersion(connStr)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(5), version)

	// Up on an up-to-date schema is a no-op.
	require.NoError(t, MigrateUp(connStr))

	ctx := context.Background()
	for _, table := range []string{"locks", "profile_runtime_state", "jobs", "job_entries", "job_runs", "run_records", "alerts"} {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	require.NoError(t, MigrateDown(connStr, 1))
	version, _, err = GetVersion(connStr)
	require.NoError(t, err)
	require.Equal(t, uint(4), version)
}

func TestRunRecordsAppendOnly(t *testing.T) {
	t.Parallel()

	pool, cleanup := SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	var id int64
	err := pool.QueryRow(ctx, "INSERT INTO run_records (status) VALUES ('OK') RETURNING id").Scan(&id)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, "UPDATE run_records SET status = 'ERROR' WHERE id = $1", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = pool.Exec(ctx, "DELETE FROM run_records WHERE id = $1", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	// Retention opts in for its own transaction only.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "SELECT set_config('ocr.run_records_retention', 'on', true)")
	require.NoError(t, err)
	tag, err := tx.Exec(ctx, "DELETE FROM run_records WHERE id = $1", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.RowsAffected())
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, pool.QueryRow(ctx, "INSERT INTO run_records (status) VALUES ('OK') RETURNING id").Scan(&id))
	_, err = pool.Exec(ctx, "DELETE FROM run_records WHERE id = $1", id)
	require.ErrorContains(t, err, "append-only", "the setting does not outlive the transaction")
}
