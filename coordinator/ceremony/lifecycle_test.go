package ceremony

import (
	"context"
	"testing"
	"time"

	"github.com/zkmpc/maestro/coordinator/db/iface"
	dbtest "github.com/zkmpc/maestro/coordinator/db/testing"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
	mtime "github.com/zkmpc/maestro/time"
)

func setupLifecycle(t *testing.T) (*Service, iface.Database, context.Context) {
	db := dbtest.SetupDB(t)
	s := New(context.Background(), &Config{Database: db})
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return s, db, context.Background()
}

func TestLifecycle_Advance(t *testing.T) {
	at := time.Now()
	mtime.Now = func() time.Time { return at }
	t.Cleanup(func() { mtime.Now = time.Now })
	now := mtime.NowMillis()

	s, db, ctx := setupLifecycle(t)
	saved := []*types.Ceremony{
		{ID: "future", Prefix: "future", State: types.CeremonyScheduled,
			StartDate: now + 1, EndDate: now + 100},
		{ID: "due", Prefix: "due", State: types.CeremonyScheduled,
			StartDate: now, EndDate: now + 100},
		{ID: "elapsed", Prefix: "elapsed", State: types.CeremonyScheduled,
			StartDate: now - 100, EndDate: now - 1},
		{ID: "running", Prefix: "running", State: types.CeremonyOpened,
			StartDate: now - 100, EndDate: now + 100},
		{ID: "over", Prefix: "over", State: types.CeremonyOpened,
			StartDate: now - 100, EndDate: now},
		{ID: "sealed", Prefix: "sealed", State: types.CeremonyFinalized,
			StartDate: now - 100, EndDate: now - 50},
	}
	for _, c := range saved {
		require.NoError(t, db.SaveCeremony(ctx, c))
	}

	s.Advance(ctx)

	want := map[string]types.CeremonyState{
		"future":  types.CeremonyScheduled,
		"due":     types.CeremonyOpened,
		"elapsed": types.CeremonyClosed,
		"running": types.CeremonyOpened,
		"over":    types.CeremonyClosed,
		"sealed":  types.CeremonyFinalized,
	}
	for id, state := range want {
		c, err := db.Ceremony(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state, c.State, "ceremony %s", id)
	}

	// A second sweep is a no-op.
	s.Advance(ctx)
	for id, state := range want {
		c, err := db.Ceremony(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state, c.State, "ceremony %s", id)
	}
}
