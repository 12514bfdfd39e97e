package kv

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/types"
)

func getParticipant(tx *bolt.Tx, ceremonyID, userID string) (*types.Participant, error) {
	enc := tx.Bucket(participantsBucket).Get(compositeKey(ceremonyID, userID))
	if enc == nil {
		return nil, nil
	}
	participant := &types.Participant{}
	if err := decode(enc, participant); err != nil {
		return nil, err
	}
	return participant, nil
}

func putParticipant(tx *bolt.Tx, ceremonyID string, participant *types.Participant) error {
	enc, err := encode(participant)
	if err != nil {
		return err
	}
	return tx.Bucket(participantsBucket).Put(compositeKey(ceremonyID, participant.UserID), enc)
}

// Participant returns the participant document, or nil when absent.
func (s *Store) Participant(ctx context.Context, ceremonyID, userID string) (*types.Participant, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Participant")
	defer span.End()
	var participant *types.Participant
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		participant, err = getParticipant(tx, ceremonyID, userID)
		return err
	})
	return participant, err
}

// Participants returns the participants of a ceremony sorted by user id.
func (s *Store) Participants(ctx context.Context, ceremonyID string) ([]*types.Participant, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Participants")
	defer span.End()
	var participants []*types.Participant
	err := s.view(func(tx *bolt.Tx) error {
		return prefixScan(tx, participantsBucket, prefixKey(ceremonyID), func(_, v []byte) error {
			participant := &types.Participant{}
			if err := decode(v, participant); err != nil {
				return err
			}
			participants = append(participants, participant)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return participants, nil
}

// SaveParticipant writes the participant document in its own transaction.
func (s *Store) SaveParticipant(ctx context.Context, ceremonyID string, participant *types.Participant) error {
	_, span := trace.StartSpan(ctx, "coordinatorDB.SaveParticipant")
	defer span.End()
	if err := s.update(func(tx *bolt.Tx) error {
		return putParticipant(tx, ceremonyID, participant)
	}); err != nil {
		return err
	}
	s.emit([]interface{}{feed.ParticipantEvent{CeremonyID: ceremonyID, Participant: participant}})
	return nil
}
