package firestoredb

import (
	"context"
	"sort"

	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"

	"github.com/zkmpc/maestro/coordinator/types"
)

// Timeouts returns the penalty records of a participant ordered by start
// date.
func (s *Store) Timeouts(ctx context.Context, ceremonyID, userID string) ([]*types.Timeout, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Timeouts")
	defer span.End()
	iter := s.timeoutsCol(ceremonyID, userID).Documents(ctx)
	defer iter.Stop()
	var timeouts []*types.Timeout
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		timeout := &types.Timeout{}
		if err := fromDoc(snap.Data(), timeout); err != nil {
			return nil, err
		}
		timeouts = append(timeouts, timeout)
	}
	sort.Slice(timeouts, func(i, j int) bool {
		return timeouts[i].StartDate < timeouts[j].StartDate
	})
	return timeouts, nil
}

// ActiveTimeout returns the timeout still blocking the participant at
// nowMs, or nil.
func (s *Store) ActiveTimeout(ctx context.Context, ceremonyID, userID string, nowMs int64) (*types.Timeout, error) {
	timeouts, err := s.Timeouts(ctx, ceremonyID, userID)
	if err != nil {
		return nil, err
	}
	for _, t := range timeouts {
		if t.Active(nowMs) {
			return t, nil
		}
	}
	return nil, nil
}

// SaveTimeout writes the timeout document.
func (s *Store) SaveTimeout(ctx context.Context, ceremonyID, userID string, timeout *types.Timeout) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveTimeout")
	defer span.End()
	doc, err := toDoc(timeout)
	if err != nil {
		return err
	}
	_, err = s.timeoutsCol(ceremonyID, userID).Doc(timeout.ID).Set(ctx, doc)
	return err
}
