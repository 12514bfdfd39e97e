package firestoredb

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
)

// Contribution returns one contribution document, or nil when absent.
func (s *Store) Contribution(ctx context.Context, ceremonyID, circuitID, contributionID string) (*types.Contribution, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Contribution")
	defer span.End()
	snap, err := s.contributionsCol(ceremonyID, circuitID).Doc(contributionID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	contribution := &types.Contribution{}
	if err := fromDoc(snap.Data(), contribution); err != nil {
		return nil, err
	}
	return contribution, nil
}

// Contributions returns the contributions of a circuit in zkey index order,
// the final seal last.
func (s *Store) Contributions(ctx context.Context, ceremonyID, circuitID string) ([]*types.Contribution, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Contributions")
	defer span.End()
	return decodeContributions(s.contributionsCol(ceremonyID, circuitID).Documents(ctx))
}

func decodeContributions(iter *firestore.DocumentIterator) ([]*types.Contribution, error) {
	defer iter.Stop()
	var contributions []*types.Contribution
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		contribution := &types.Contribution{}
		if err := fromDoc(snap.Data(), contribution); err != nil {
			return nil, err
		}
		contributions = append(contributions, contribution)
	}
	sort.Slice(contributions, func(i, j int) bool {
		return contributionOrder(contributions[i]) < contributionOrder(contributions[j])
	})
	return contributions, nil
}

func contributionOrder(c *types.Contribution) int64 {
	if c.ZkeyIndex == types.FinalZkeyIndex {
		return int64(^uint64(0) >> 1)
	}
	k, err := api.ParseZkeyIndex(c.ZkeyIndex)
	if err != nil {
		return 0
	}
	return k
}

// ContributionByZkeyIndex returns the contribution carrying the given
// padded index, or nil.
func (s *Store) ContributionByZkeyIndex(ctx context.Context, ceremonyID, circuitID, zkeyIndex string) (*types.Contribution, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.ContributionByZkeyIndex")
	defer span.End()
	iter := s.contributionsCol(ceremonyID, circuitID).Where("zkeyIndex", "==", zkeyIndex).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	contribution := &types.Contribution{}
	if err := fromDoc(snap.Data(), contribution); err != nil {
		return nil, err
	}
	return contribution, nil
}

// SaveContribution writes the contribution document.
func (s *Store) SaveContribution(ctx context.Context, ceremonyID, circuitID string, contribution *types.Contribution) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveContribution")
	defer span.End()
	doc, err := toDoc(contribution)
	if err != nil {
		return err
	}
	_, err = s.contributionsCol(ceremonyID, circuitID).Doc(contribution.ID).Set(ctx, doc)
	return err
}
