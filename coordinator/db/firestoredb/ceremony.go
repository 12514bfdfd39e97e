package firestoredb

import (
	"context"
	"sort"

	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"

	"github.com/zkmpc/maestro/coordinator/types"
)

// Ceremony returns the ceremony document, or nil when absent.
func (s *Store) Ceremony(ctx context.Context, ceremonyID string) (*types.Ceremony, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Ceremony")
	defer span.End()
	snap, err := s.ceremonyDoc(ceremonyID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	ceremony := &types.Ceremony{}
	if err := fromDoc(snap.Data(), ceremony); err != nil {
		return nil, err
	}
	return ceremony, nil
}

// CeremonyByPrefix returns the ceremony carrying the unique prefix, or nil.
func (s *Store) CeremonyByPrefix(ctx context.Context, prefix string) (*types.Ceremony, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.CeremonyByPrefix")
	defer span.End()
	iter := s.client.Collection(ceremoniesCollection).Where("prefix", "==", prefix).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ceremony := &types.Ceremony{}
	if err := fromDoc(snap.Data(), ceremony); err != nil {
		return nil, err
	}
	return ceremony, nil
}

// Ceremonies returns all ceremonies, filtered to the given states when any
// are passed, sorted by start date. The sort happens client side so the
// deployment needs no composite indexes.
func (s *Store) Ceremonies(ctx context.Context, states ...types.CeremonyState) ([]*types.Ceremony, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Ceremonies")
	defer span.End()
	query := s.client.Collection(ceremoniesCollection).Query
	if len(states) > 0 {
		vals := make([]interface{}, 0, len(states))
		for _, st := range states {
			vals = append(vals, string(st))
		}
		query = query.Where("state", "in", vals)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()
	var ceremonies []*types.Ceremony
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ceremony := &types.Ceremony{}
		if err := fromDoc(snap.Data(), ceremony); err != nil {
			return nil, err
		}
		ceremonies = append(ceremonies, ceremony)
	}
	sort.Slice(ceremonies, func(i, j int) bool {
		return ceremonies[i].StartDate < ceremonies[j].StartDate
	})
	return ceremonies, nil
}

// SaveCeremony writes the ceremony document. The change feed event arrives
// through the snapshot listener once the write commits.
func (s *Store) SaveCeremony(ctx context.Context, ceremony *types.Ceremony) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveCeremony")
	defer span.End()
	doc, err := toDoc(ceremony)
	if err != nil {
		return err
	}
	_, err = s.ceremonyDoc(ceremony.ID).Set(ctx, doc)
	return err
}
