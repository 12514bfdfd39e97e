package kv

import (
	"context"
	"testing"

	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestStore_CircuitCRUD(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	circuit := &types.Circuit{
		ID:               "circuit-1",
		Prefix:           "multiplier",
		Name:             "Multiplier",
		SequencePosition: 1,
		Metadata: types.CircuitMetadata{
			Curve:       "bn254",
			Constraints: 1024,
			PotNeeded:   11,
		},
		WaitingQueue: types.WaitingQueue{Contributors: []string{}},
	}
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", circuit))

	retrieved, err := db.Circuit(ctx, "ceremony-1", circuit.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	require.DeepEqual(t, circuit, retrieved)

	// The same circuit id under another ceremony is a distinct document.
	other, err := db.Circuit(ctx, "ceremony-2", circuit.ID)
	require.NoError(t, err)
	if other != nil {
		t.Fatal("Expected circuit to be scoped to its ceremony")
	}
}

func TestStore_Circuits_SequenceOrder(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for _, c := range []*types.Circuit{
		{ID: "z-last", SequencePosition: 3},
		{ID: "m-first", SequencePosition: 1},
		{ID: "a-second", SequencePosition: 2},
	} {
		require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", c))
	}
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-2", &types.Circuit{ID: "other", SequencePosition: 1}))

	circuits, err := db.Circuits(ctx, "ceremony-1")
	require.NoError(t, err)
	require.Equal(t, 3, len(circuits))
	assert.Equal(t, int64(1), circuits[0].SequencePosition)
	assert.Equal(t, int64(2), circuits[1].SequencePosition)
	assert.Equal(t, int64(3), circuits[2].SequencePosition)
}

func TestCircuit_Queued(t *testing.T) {
	circuit := &types.Circuit{
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice", "bob"},
			CurrentContributor: "alice",
		},
	}
	assert.Equal(t, true, circuit.Queued("bob"))
	assert.Equal(t, false, circuit.Queued("carol"))
}
