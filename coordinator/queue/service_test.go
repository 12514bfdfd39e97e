package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	dbtest "github.com/zkmpc/maestro/coordinator/db/testing"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func setupService(t *testing.T) (*Service, iface.Database, context.Context) {
	db := dbtest.SetupDB(t)
	ctx := context.Background()
	s := New(ctx, &Config{Database: db})
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return s, db, ctx
}

// persistVerification emulates the batch the verification worker commits:
// the contribution document plus the circuit counters, atomically.
func persistVerification(t *testing.T, db iface.Database, ceremonyID string, circuitID, participantID string, valid bool) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, db.RunTransaction(context.Background(), func(tx iface.Txn) error {
		circuit, err := tx.Circuit(ceremonyID, circuitID)
		if err != nil {
			return err
		}
		contribution := &types.Contribution{
			ID:            id,
			ParticipantID: participantID,
			ZkeyIndex:     api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1),
			Valid:         valid,
		}
		if valid {
			circuit.WaitingQueue.CompletedContributions++
		} else {
			circuit.WaitingQueue.FailedContributions++
		}
		if err := tx.SaveContribution(ceremonyID, circuitID, contribution); err != nil {
			return err
		}
		return tx.SaveCircuit(ceremonyID, circuit)
	}))
	return id
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for queue coordinator")
}

func TestService_AdmitReadyParticipant(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "alice", Status: types.StatusReady, ContributionProgress: 1,
	}))

	require.NoError(t, s.admitReadyParticipant(ctx, "ceremony-1", "alice"))

	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)
	p, err := db.Participant(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, p.Status)

	// A stale READY event for an already-admitted participant is a no-op.
	require.NoError(t, s.admitReadyParticipant(ctx, "ceremony-1", "alice"))
	circuit, err = db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	require.Equal(t, 1, len(circuit.WaitingQueue.Contributors))
}

func TestService_AdmitReadyParticipant_NoCircuitAtProgress(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "alice", Status: types.StatusReady, ContributionProgress: 7,
	}))
	err := s.admitReadyParticipant(ctx, "ceremony-1", "alice")
	assert.ErrorContains(t, "no circuit at sequence position", err)
}

func TestService_SettleVerifiedContribution_MidCeremony(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice", "bob"},
			CurrentContributor: "alice",
		},
	}))
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-2", Prefix: "mul3", SequencePosition: 2,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepVerifying,
		Contributions:        []types.ContributionRef{{Hash: "aa", ComputationTime: 5_000}},
		TempContributionData: types.TempContributionData{UploadID: "upload-1"},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "bob", Status: types.StatusWaiting, ContributionProgress: 1,
	}))
	contributionID := persistVerification(t, db, "ceremony-1", "circuit-1", "alice", true)

	require.NoError(t, s.settleVerifiedContribution(ctx, "ceremony-1", "circuit-1", contributionID, "alice"))

	// Alice was refreshed towards the second circuit in the same commit
	// that promoted Bob.
	alice, err := db.Participant(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, alice.Status)
	assert.Equal(t, int64(2), alice.ContributionProgress)
	assert.Equal(t, contributionID, alice.Contributions[0].Doc)
	assert.Equal(t, "", alice.TempContributionData.UploadID)

	bob, err := db.Participant(ctx, "ceremony-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, bob.Status)
	assert.Equal(t, types.StepDownloading, bob.ContributionStep)

	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", circuit.WaitingQueue.CurrentContributor)
	assert.Equal(t, int64(1), circuit.WaitingQueue.CompletedContributions)

	// Replaying the event settles nothing twice.
	require.NoError(t, s.settleVerifiedContribution(ctx, "ceremony-1", "circuit-1", contributionID, "alice"))
	circuit, err = db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", circuit.WaitingQueue.CurrentContributor)
	require.Equal(t, 1, len(circuit.WaitingQueue.Contributors))
}

func TestService_SettleVerifiedContribution_InvalidStillAdvances(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice"},
			CurrentContributor: "alice",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepVerifying,
	}))
	contributionID := persistVerification(t, db, "ceremony-1", "circuit-1", "alice", false)

	require.NoError(t, s.settleVerifiedContribution(ctx, "ceremony-1", "circuit-1", contributionID, "alice"))

	// The slot is burned: progress advances past the circuit either way.
	alice, err := db.Participant(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), alice.ContributionProgress)
	assert.Equal(t, types.StatusContributed, alice.Status)

	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, "", circuit.WaitingQueue.CurrentContributor)
	assert.Equal(t, int64(0), circuit.WaitingQueue.CompletedContributions)
	assert.Equal(t, int64(1), circuit.WaitingQueue.FailedContributions)
}

func TestService_PromoteFinishedParticipant(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-1", State: types.CeremonyOpened, CoordinatorID: "github|coordinator",
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "alice", Status: types.StatusContributed, ContributionProgress: 2,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|coordinator", Status: types.StatusContributed, ContributionProgress: 2,
	}))

	require.NoError(t, s.promoteFinishedParticipant(ctx, "ceremony-1", "alice"))
	require.NoError(t, s.promoteFinishedParticipant(ctx, "ceremony-1", "github|coordinator"))

	alice, err := db.Participant(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, alice.Status)

	// The ceremony coordinator parks at CONTRIBUTED until finalization.
	coordinator, err := db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributed, coordinator.Status)
}

func TestService_FinalContributionLeavesQueuesAlone(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
	}))
	err := s.handleContributionEvent(ctx, feed.ContributionEvent{
		CeremonyID: "ceremony-1",
		CircuitID:  "circuit-1",
		Contribution: &types.Contribution{
			ID: "final-1", ParticipantID: "github|coordinator",
			ZkeyIndex: types.FinalZkeyIndex, Valid: true,
		},
	})
	require.NoError(t, err)
	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), circuit.WaitingQueue.CompletedContributions)
}

// TestService_TwoContributorsStrictOrder drives two contributors through a
// one-circuit ceremony over the live event feed: admission, slot grant,
// settlement and promotion all happen without a direct handler call.
func TestService_TwoContributorsStrictOrder(t *testing.T) {
	s, db, ctx := setupService(t)

	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-1", State: types.CeremonyOpened, CoordinatorID: "github|coordinator",
	}))
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "alice", Status: types.StatusReady, ContributionProgress: 1,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "bob", Status: types.StatusReady, ContributionProgress: 1,
	}))

	// The startup sweep admits both in userID order: [alice, bob].
	s.Start()
	waitForCondition(t, func() bool {
		circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
		return err == nil && circuit.WaitingQueue.CurrentContributor == "alice" &&
			len(circuit.WaitingQueue.Contributors) == 2
	})

	// Alice reaches VERIFYING and her verification result lands.
	alice, err := db.Participant(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	alice.ContributionStep = types.StepVerifying
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", alice))
	persistVerification(t, db, "ceremony-1", "circuit-1", "alice", true)

	waitForCondition(t, func() bool {
		circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
		return err == nil && circuit.WaitingQueue.CurrentContributor == "bob"
	})
	waitForCondition(t, func() bool {
		p, err := db.Participant(ctx, "ceremony-1", "alice")
		return err == nil && p.Status == types.StatusDone
	})

	// Then Bob's.
	bob, err := db.Participant(ctx, "ceremony-1", "bob")
	require.NoError(t, err)
	bob.ContributionStep = types.StepVerifying
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", bob))
	persistVerification(t, db, "ceremony-1", "circuit-1", "bob", true)

	waitForCondition(t, func() bool {
		circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
		return err == nil && circuit.WaitingQueue.CurrentContributor == "" &&
			len(circuit.WaitingQueue.Contributors) == 0 &&
			circuit.WaitingQueue.CompletedContributions == 2
	})
	waitForCondition(t, func() bool {
		p, err := db.Participant(ctx, "ceremony-1", "bob")
		return err == nil && p.Status == types.StatusDone
	})
}
