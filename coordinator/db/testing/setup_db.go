// Package testing allows for spinning up a temporary record store for unit
// tests in other packages.
package testing

import (
	"testing"

	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/db/kv"
)

// SetupDB instantiates and returns a record store backed by a temporary
// bbolt file, closed and cleared when the test finishes.
func SetupDB(t testing.TB) iface.Database {
	db, err := kv.NewKVStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to instantiate record store: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close record store: %v", err)
		}
		if err := db.ClearDB(); err != nil {
			t.Fatalf("Failed to clear record store: %v", err)
		}
	})
	return db
}
