package kv

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/types"
)

func getContribution(tx *bolt.Tx, ceremonyID, circuitID, contributionID string) (*types.Contribution, error) {
	enc := tx.Bucket(contributionsBucket).Get(compositeKey(ceremonyID, circuitID, contributionID))
	if enc == nil {
		return nil, nil
	}
	contribution := &types.Contribution{}
	if err := decode(enc, contribution); err != nil {
		return nil, err
	}
	return contribution, nil
}

func getContributions(tx *bolt.Tx, ceremonyID, circuitID string) ([]*types.Contribution, error) {
	var contributions []*types.Contribution
	err := prefixScan(tx, contributionsBucket, prefixKey(ceremonyID, circuitID), func(_, v []byte) error {
		contribution := &types.Contribution{}
		if err := decode(v, contribution); err != nil {
			return err
		}
		contributions = append(contributions, contribution)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortContributions(contributions)
	return contributions, nil
}

// sortContributions orders by parsed zkey index with the final seal last.
func sortContributions(contributions []*types.Contribution) {
	sort.Slice(contributions, func(i, j int) bool {
		return contributionOrder(contributions[i]) < contributionOrder(contributions[j])
	})
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

func putContribution(tx *bolt.Tx, ceremonyID, circuitID string, contribution *types.Contribution) error {
	enc, err := encode(contribution)
	if err != nil {
		return err
	}
	return tx.Bucket(contributionsBucket).Put(compositeKey(ceremonyID, circuitID, contribution.ID), enc)
}

// Contribution returns one contribution document, or nil when absent.
func (s *Store) Contribution(ctx context.Context, ceremonyID, circuitID, contributionID string) (*types.Contribution, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Contribution")
	defer span.End()
	var contribution *types.Contribution
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		contribution, err = getContribution(tx, ceremonyID, circuitID, contributionID)
		return err
	})
	return contribution, err
}

// Contributions returns the contributions of a circuit in zkey index order,
// the final seal last.
func (s *Store) Contributions(ctx context.Context, ceremonyID, circuitID string) ([]*types.Contribution, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Contributions")
	defer span.End()
	var contributions []*types.Contribution
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		contributions, err = getContributions(tx, ceremonyID, circuitID)
		return err
	})
	return contributions, err
}

// ContributionByZkeyIndex returns the contribution carrying the given
// padded index, or nil.
func (s *Store) ContributionByZkeyIndex(ctx context.Context, ceremonyID, circuitID, zkeyIndex string) (*types.Contribution, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.ContributionByZkeyIndex")
	defer span.End()
	contributions, err := s.Contributions(ctx, ceremonyID, circuitID)
	if err != nil {
		return nil, err
	}
	for _, c := range contributions {
		if c.ZkeyIndex == zkeyIndex {
			return c, nil
		}
	}
	return nil, nil
}

// SaveContribution writes the contribution document in its own transaction.
func (s *Store) SaveContribution(ctx context.Context, ceremonyID, circuitID string, contribution *types.Contribution) error {
	_, span := trace.StartSpan(ctx, "coordinatorDB.SaveContribution")
	defer span.End()
	if err := s.update(func(tx *bolt.Tx) error {
		return putContribution(tx, ceremonyID, circuitID, contribution)
	}); err != nil {
		return err
	}
	s.emit([]interface{}{feed.ContributionEvent{
		CeremonyID:   ceremonyID,
		CircuitID:    circuitID,
		Contribution: contribution,
	}})
	return nil
}
