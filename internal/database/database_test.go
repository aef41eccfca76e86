package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryRunsMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.Get(&version, `SELECT MAX(version) FROM schema_version`))
	assert.Equal(t, len(migrations), version)

	for _, table := range []string{"dedup_records", "counters", "run_state", "held_items"} {
		var n int
		require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM `+table))
		assert.Zero(t, n, table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archiver.db")

	db, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var rows int
	require.NoError(t, db.Get(&rows, `SELECT COUNT(*) FROM schema_version`))
	assert.Equal(t, len(migrations), rows)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.ErrorContains(t, err, "unsupported database driver")
}
