package firestoredb

import (
	"testing"

	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestDocumentCodec_RoundTrip(t *testing.T) {
	participant := &types.Participant{
		UserID:               "github|1234",
		Status:               types.StatusContributing,
		ContributionProgress: 3,
		ContributionStep:     types.StepUploading,
		TempContributionData: types.TempContributionData{
			ContributionComputationTime: 123456789,
			UploadID:                    "upload-1",
			Chunks: []types.ChunkData{
				{ETag: "etag-1", PartNumber: 1},
			},
		},
		LastUpdated: 1700000000000,
	}

	doc, err := toDoc(participant)
	require.NoError(t, err)
	// Field names must match the JSON tags so that both record store
	// backends persist the same document shape.
	assert.Equal(t, "github|1234", doc["userId"])
	assert.Equal(t, "CONTRIBUTING", doc["status"])

	decoded := &types.Participant{}
	require.NoError(t, fromDoc(doc, decoded))
	require.DeepEqual(t, participant, decoded)
}

func TestDocumentCodec_MillisecondTimestampsSurvive(t *testing.T) {
	// Unix-millisecond timestamps pass through float64 on the way to the
	// document map; they must come back bit-exact.
	ceremony := &types.Ceremony{ID: "c", StartDate: 1893456000000, EndDate: 4102444800000}
	doc, err := toDoc(ceremony)
	require.NoError(t, err)
	decoded := &types.Ceremony{}
	require.NoError(t, fromDoc(doc, decoded))
	assert.Equal(t, int64(1893456000000), decoded.StartDate)
	assert.Equal(t, int64(4102444800000), decoded.EndDate)
}
