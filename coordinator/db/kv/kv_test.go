package kv

import (
	"testing"

	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

// setupDB instantiates and returns a Store backed by a temporary directory.
func setupDB(t testing.TB) *Store {
	db, err := NewKVStore(t.TempDir(), nil)
	require.NoError(t, err, "Failed to instantiate DB")
	t.Cleanup(func() {
		require.NoError(t, db.Close(), "Failed to close database")
		require.NoError(t, db.ClearDB(), "Failed to clear database")
	})
	return db
}

func TestStore_DatabasePath(t *testing.T) {
	db := setupDB(t)
	assert.NotEqual(t, "", db.DatabasePath())
}

func TestStore_ClearDB(t *testing.T) {
	p := t.TempDir()
	db, err := NewKVStore(p, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.ClearDB())
	// Clearing an already-cleared database is a no-op.
	require.NoError(t, db.ClearDB())
}

func TestStore_Size(t *testing.T) {
	db := setupDB(t)
	size, err := db.Size()
	require.NoError(t, err)
	if size <= 0 {
		t.Errorf("Expected positive database size, received %d", size)
	}
}
