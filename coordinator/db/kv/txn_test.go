package kv

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestStore_RunTransaction_Atomic(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID:               "circuit-1",
		SequencePosition: 1,
		WaitingQueue:     types.WaitingQueue{Contributors: []string{"alice"}, CurrentContributor: "alice"},
	}))

	err := db.RunTransaction(ctx, func(tx iface.Txn) error {
		circuit, err := tx.Circuit("ceremony-1", "circuit-1")
		if err != nil {
			return err
		}
		circuit.WaitingQueue.Contributors = append(circuit.WaitingQueue.Contributors, "bob")
		if err := tx.SaveCircuit("ceremony-1", circuit); err != nil {
			return err
		}
		return tx.SaveParticipant("ceremony-1", &types.Participant{UserID: "bob", Status: types.StatusWaiting})
	})
	require.NoError(t, err)

	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	require.DeepEqual(t, []string{"alice", "bob"}, circuit.WaitingQueue.Contributors)
	participant, err := db.Participant(ctx, "ceremony-1", "bob")
	require.NoError(t, err)
	require.NotNil(t, participant)
}

func TestStore_RunTransaction_RollsBackOnError(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := db.RunTransaction(ctx, func(tx iface.Txn) error {
		if err := tx.SaveParticipant("ceremony-1", &types.Participant{UserID: "alice"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.ErrorContains(t, "abort", err)

	participant, err := db.Participant(ctx, "ceremony-1", "alice")
	require.NoError(t, err)
	if participant != nil {
		t.Fatal("Expected the rolled-back write to be invisible")
	}
}

func TestStore_RunTransaction_EmitsAfterCommit(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	participantCh := make(chan feed.ParticipantEvent, 2)
	participantSub := db.SubscribeParticipantEvents(participantCh)
	defer participantSub.Unsubscribe()
	contributionCh := make(chan feed.ContributionEvent, 2)
	contributionSub := db.SubscribeContributionEvents(contributionCh)
	defer contributionSub.Unsubscribe()

	err := db.RunTransaction(ctx, func(tx iface.Txn) error {
		if err := tx.SaveParticipant("ceremony-1", &types.Participant{UserID: "alice", Status: types.StatusContributed}); err != nil {
			return err
		}
		return tx.SaveContribution("ceremony-1", "circuit-1", &types.Contribution{ID: "c1", ZkeyIndex: "00001", Valid: true})
	})
	require.NoError(t, err)

	pEvt := <-participantCh
	assert.Equal(t, "ceremony-1", pEvt.CeremonyID)
	assert.Equal(t, "alice", pEvt.Participant.UserID)
	cEvt := <-contributionCh
	assert.Equal(t, "circuit-1", cEvt.CircuitID)
	assert.Equal(t, "00001", cEvt.Contribution.ZkeyIndex)
}

func TestStore_RunTransaction_NoEventsOnRollback(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	ch := make(chan feed.ParticipantEvent, 1)
	sub := db.SubscribeParticipantEvents(ch)
	defer sub.Unsubscribe()

	err := db.RunTransaction(ctx, func(tx iface.Txn) error {
		if err := tx.SaveParticipant("ceremony-1", &types.Participant{UserID: "alice"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.ErrorContains(t, "abort", err)

	select {
	case evt := <-ch:
		t.Fatalf("Expected no event after rollback, received %+v", evt)
	default:
	}
}
