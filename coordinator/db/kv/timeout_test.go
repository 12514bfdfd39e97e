package kv

import (
	"context"
	"testing"

	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestStore_Timeouts_SortedByStartDate(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for _, to := range []*types.Timeout{
		{ID: "second", StartDate: 200, EndDate: 300, Type: types.TimeoutBlockingContribution},
		{ID: "first", StartDate: 100, EndDate: 150, Type: types.TimeoutBlockingCloudFunction},
	} {
		require.NoError(t, db.SaveTimeout(ctx, "ceremony-1", "alice", to))
	}

	timeouts, err := db.Timeouts(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	require.Equal(t, 2, len(timeouts))
	assert.Equal(t, "first", timeouts[0].ID)
	assert.Equal(t, "second", timeouts[1].ID)

	other, err := db.Timeouts(ctx, "ceremony-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, len(other))
}

func TestStore_ActiveTimeout(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	expired := &types.Timeout{ID: "expired", StartDate: 100, EndDate: 200}
	active := &types.Timeout{ID: "active", StartDate: 300, EndDate: 1000}
	require.NoError(t, db.SaveTimeout(ctx, "ceremony-1", "alice", expired))
	require.NoError(t, db.SaveTimeout(ctx, "ceremony-1", "alice", active))

	retrieved, err := db.ActiveTimeout(ctx, "ceremony-1", "alice", 500)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, "active", retrieved.ID)

	// A timeout ending exactly now no longer blocks.
	retrieved, err = db.ActiveTimeout(ctx, "ceremony-1", "alice", 1000)
	require.NoError(t, err)
	if retrieved != nil {
		t.Fatal("Expected no active timeout once the end date has passed")
	}
}
