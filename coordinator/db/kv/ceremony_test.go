package kv

import (
	"context"
	"testing"

	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestStore_CeremonyCRUD(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	retrieved, err := db.Ceremony(ctx, "missing")
	require.NoError(t, err)
	if retrieved != nil {
		t.Fatal("Expected nil for a ceremony that does not exist")
	}

	ceremony := &types.Ceremony{
		ID:               "ceremony-1",
		Prefix:           "example-dapp",
		Title:            "Example DApp Ceremony",
		StartDate:        1000,
		EndDate:          2000,
		State:            types.CeremonyScheduled,
		Type:             types.CeremonyPhase2,
		CoordinatorID:    "coordinator",
		TimeoutMechanism: types.TimeoutDynamic,
	}
	require.NoError(t, db.SaveCeremony(ctx, ceremony))

	retrieved, err = db.Ceremony(ctx, ceremony.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	require.DeepEqual(t, ceremony, retrieved)
}

func TestStore_CeremonyByPrefix(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{ID: "a", Prefix: "first-dapp"}))
	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{ID: "b", Prefix: "second-dapp"}))

	retrieved, err := db.CeremonyByPrefix(ctx, "second-dapp")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, "b", retrieved.ID)

	retrieved, err = db.CeremonyByPrefix(ctx, "unknown-dapp")
	require.NoError(t, err)
	if retrieved != nil {
		t.Fatal("Expected nil for an unknown prefix")
	}
}

func TestStore_Ceremonies_FiltersAndSorts(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	ceremonies := []*types.Ceremony{
		{ID: "c", Prefix: "p3", StartDate: 300, State: types.CeremonyClosed},
		{ID: "a", Prefix: "p1", StartDate: 100, State: types.CeremonyOpened},
		{ID: "b", Prefix: "p2", StartDate: 200, State: types.CeremonyOpened},
	}
	for _, c := range ceremonies {
		require.NoError(t, db.SaveCeremony(ctx, c))
	}

	all, err := db.Ceremonies(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, len(all))
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)

	opened, err := db.Ceremonies(ctx, types.CeremonyOpened)
	require.NoError(t, err)
	require.Equal(t, 2, len(opened))
	assert.Equal(t, "a", opened[0].ID)
	assert.Equal(t, "b", opened[1].ID)

	finalized, err := db.Ceremonies(ctx, types.CeremonyFinalized)
	require.NoError(t, err)
	assert.Equal(t, 0, len(finalized))
}
