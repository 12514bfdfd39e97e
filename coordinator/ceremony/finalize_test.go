package ceremony

import (
	"context"
	"testing"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

const beaconHex = "000102030405060708090a0b0c0d0e0f"

// seedClosedCeremony persists a closed two-circuit ceremony whose
// coordinator contributed to every circuit.
func seedClosedCeremony(t *testing.T, m *Manager, ctx context.Context) {
	t.Helper()
	require.NoError(t, m.db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-1", Prefix: "example", State: types.CeremonyClosed,
		CoordinatorID: "github|coordinator",
	}))
	require.NoError(t, m.db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
	}))
	require.NoError(t, m.db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-2", Prefix: "mul3", SequencePosition: 2,
	}))
	require.NoError(t, m.db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|coordinator", Status: types.StatusContributed,
		ContributionProgress: 3, ContributionStep: types.StepCompleted,
	}))
}

func saveFinalContribution(t *testing.T, m *Manager, ctx context.Context, circuitID, id string, valid bool) {
	t.Helper()
	require.NoError(t, m.db.SaveContribution(ctx, "ceremony-1", circuitID, &types.Contribution{
		ID: id, ParticipantID: "github|coordinator",
		ZkeyIndex: types.FinalZkeyIndex, Valid: valid,
		Beacon: &types.Beacon{Value: beaconHex, Hash: "beaconhash"},
	}))
}

func TestManager_CheckAndPrepareCoordinatorForFinalization(t *testing.T) {
	m, _, ctx := setupManager(t)
	seedClosedCeremony(t, m, ctx)

	eligible, err := m.CheckAndPrepareCoordinatorForFinalization(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, true, eligible)
	p, err := m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalizing, p.Status)

	// Idempotent once FINALIZING.
	eligible, err = m.CheckAndPrepareCoordinatorForFinalization(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, true, eligible)

	_, err = m.CheckAndPrepareCoordinatorForFinalization(ctx, "ceremony-1", "github|mallory")
	require.NotNil(t, err)
	assert.Equal(t, api.CodePermissionDenied, api.ErrCode(err))
}

func TestManager_CheckAndPrepareCoordinatorForFinalization_Guards(t *testing.T) {
	m, _, ctx := setupManager(t)
	seedClosedCeremony(t, m, ctx)

	// Coordinator who has not finished every circuit is not eligible, but
	// that is an answer, not an error.
	p, err := m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	p.Status = types.StatusReady
	p.ContributionProgress = 2
	require.NoError(t, m.db.SaveParticipant(ctx, "ceremony-1", p))
	eligible, err := m.CheckAndPrepareCoordinatorForFinalization(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, false, eligible)

	// Finalization never starts on an opened ceremony.
	ceremony, err := m.db.Ceremony(ctx, "ceremony-1")
	require.NoError(t, err)
	ceremony.State = types.CeremonyOpened
	require.NoError(t, m.db.SaveCeremony(ctx, ceremony))
	_, err = m.CheckAndPrepareCoordinatorForFinalization(ctx, "ceremony-1", "github|coordinator")
	require.NotNil(t, err)
	assert.Equal(t, api.CodeFailedPrecondition, api.ErrCode(err))
}

func TestManager_FinalizeCircuit(t *testing.T) {
	m, _, ctx := setupManager(t)
	seedClosedCeremony(t, m, ctx)
	saveFinalContribution(t, m, ctx, "circuit-1", "final-1", true)

	// The coordinator recorded the seal's time and hash before verification,
	// leaving a contribution entry waiting for its document id.
	p, err := m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	p.Status = types.StatusFinalizing
	p.Contributions = []types.ContributionRef{{ComputationTime: 1_000, Hash: "sealhash"}}
	require.NoError(t, m.db.SaveParticipant(ctx, "ceremony-1", p))

	require.NoError(t, m.FinalizeCircuit(ctx, "ceremony-1", "circuit-1", "github|coordinator", beaconHex))
	p, err = m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	require.Equal(t, 1, len(p.Contributions))
	assert.Equal(t, "final-1", p.Contributions[0].Doc)
	assert.Equal(t, "sealhash", p.Contributions[0].Hash)

	// Re-running changes nothing.
	require.NoError(t, m.FinalizeCircuit(ctx, "ceremony-1", "circuit-1", "github|coordinator", beaconHex))
	p, err = m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, 1, len(p.Contributions))

	err = m.FinalizeCircuit(ctx, "ceremony-1", "circuit-1", "github|coordinator", "ffff")
	require.NotNil(t, err)
	assert.Equal(t, api.CodeInvalidArgument, api.ErrCode(err))

	// circuit-2 has no final contribution yet.
	err = m.FinalizeCircuit(ctx, "ceremony-1", "circuit-2", "github|coordinator", beaconHex)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeFailedPrecondition, api.ErrCode(err))

	// An invalid seal cannot be committed.
	saveFinalContribution(t, m, ctx, "circuit-2", "final-2", false)
	err = m.FinalizeCircuit(ctx, "ceremony-1", "circuit-2", "github|coordinator", beaconHex)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeFailedPrecondition, api.ErrCode(err))
}

func TestManager_FinalizeCeremony(t *testing.T) {
	m, _, ctx := setupManager(t)
	seedClosedCeremony(t, m, ctx)
	saveFinalContribution(t, m, ctx, "circuit-1", "final-1", true)

	p, err := m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	p.Status = types.StatusFinalizing
	require.NoError(t, m.db.SaveParticipant(ctx, "ceremony-1", p))

	// circuit-2 is still open.
	err = m.FinalizeCeremony(ctx, "ceremony-1", "github|coordinator")
	require.NotNil(t, err)
	assert.Equal(t, api.CodeFailedPrecondition, api.ErrCode(err))
	assert.ErrorContains(t, "mul3", err)

	saveFinalContribution(t, m, ctx, "circuit-2", "final-2", true)
	require.NoError(t, m.FinalizeCeremony(ctx, "ceremony-1", "github|coordinator"))
	ceremony, err := m.db.Ceremony(ctx, "ceremony-1")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyFinalized, ceremony.State)
	p, err = m.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalized, p.Status)

	// A finalized ceremony cannot be finalized again.
	err = m.FinalizeCeremony(ctx, "ceremony-1", "github|coordinator")
	require.NotNil(t, err)
	assert.Equal(t, api.CodeFailedPrecondition, api.ErrCode(err))
}
