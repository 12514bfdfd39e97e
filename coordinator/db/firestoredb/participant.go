package firestoredb

import (
	"context"
	"sort"

	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"

	"github.com/zkmpc/maestro/coordinator/types"
)

// Participant returns the participant document, or nil when absent.
func (s *Store) Participant(ctx context.Context, ceremonyID, userID string) (*types.Participant, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Participant")
	defer span.End()
	snap, err := s.participantsCol(ceremonyID).Doc(userID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	participant := &types.Participant{}
	if err := fromDoc(snap.Data(), participant); err != nil {
		return nil, err
	}
	return participant, nil
}

// Participants returns the participants of a ceremony sorted by user id.
func (s *Store) Participants(ctx context.Context, ceremonyID string) ([]*types.Participant, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Participants")
	defer span.End()
	iter := s.participantsCol(ceremonyID).Documents(ctx)
	defer iter.Stop()
	var participants []*types.Participant
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		participant := &types.Participant{}
		if err := fromDoc(snap.Data(), participant); err != nil {
			return nil, err
		}
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return participants, nil
}

// SaveParticipant writes the participant document.
func (s *Store) SaveParticipant(ctx context.Context, ceremonyID string, participant *types.Participant) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveParticipant")
	defer span.End()
	doc, err := toDoc(participant)
	if err != nil {
		return err
	}
	_, err = s.participantsCol(ceremonyID).Doc(participant.UserID).Set(ctx, doc)
	return err
}
