package kv

import (
	"context"
	"testing"

	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestStore_ParticipantCRUD(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	participant := &types.Participant{
		UserID:               "github|1234",
		Status:               types.StatusContributing,
		ContributionProgress: 1,
		ContributionStep:     types.StepUploading,
		Contributions: []types.ContributionRef{
			{Hash: "deadbeef", ComputationTime: 42},
		},
		TempContributionData: types.TempContributionData{
			UploadID: "upload-1",
			Chunks: []types.ChunkData{
				{ETag: "etag-1", PartNumber: 1},
				{ETag: "etag-2", PartNumber: 2},
			},
		},
	}
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", participant))

	retrieved, err := db.Participant(ctx, "ceremony-1", participant.UserID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	require.DeepEqual(t, participant, retrieved)

	// Overwrites replace the stored document.
	participant.Status = types.StatusContributed
	participant.ContributionStep = types.StepCompleted
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", participant))
	retrieved, err = db.Participant(ctx, "ceremony-1", participant.UserID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributed, retrieved.Status)
}

func TestStore_Participants_SortedByUserID(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for _, id := range []string{"carol", "alice", "bob"} {
		require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{UserID: id}))
	}
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-2", &types.Participant{UserID: "dave"}))

	participants, err := db.Participants(ctx, "ceremony-1")
	require.NoError(t, err)
	require.Equal(t, 3, len(participants))
	assert.Equal(t, "alice", participants[0].UserID)
	assert.Equal(t, "bob", participants[1].UserID)
	assert.Equal(t, "carol", participants[2].UserID)
}

func TestParticipant_CurrentContributor(t *testing.T) {
	circuit := &types.Circuit{
		SequencePosition: 2,
		WaitingQueue:     types.WaitingQueue{CurrentContributor: "alice"},
	}
	p := &types.Participant{
		UserID:               "alice",
		Status:               types.StatusContributing,
		ContributionProgress: 2,
	}
	assert.Equal(t, true, p.CurrentContributor(circuit))

	p.Status = types.StatusWaiting
	assert.Equal(t, false, p.CurrentContributor(circuit))

	p.Status = types.StatusContributing
	p.ContributionProgress = 1
	assert.Equal(t, false, p.CurrentContributor(circuit))
}
