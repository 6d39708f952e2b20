package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := New(filepath.Join(t.TempDir(), "data", "indexhub.db"))
	require.NoError(t, err)
	defer db.Close()

	applied, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.True(t, tableExists(t, db, "backend_health"))
	assert.True(t, tableExists(t, db, "download_history"))

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	applied, err = db.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied, "second run is a no-op")

	require.NoError(t, db.MigrateDown(ctx))
	assert.False(t, tableExists(t, db, "download_history"))
	assert.True(t, tableExists(t, db, "backend_health"))
}

func TestNew_Memory(t *testing.T) {
	db, err := New(MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Migrate(context.Background())
	require.NoError(t, err)
	assert.True(t, tableExists(t, db, "backend_health"))
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	assert.Contains(t, dsn("/data/x.db"), "journal_mode(WAL)")
	assert.NotContains(t, dsn(MemoryPath), "journal_mode")
}
