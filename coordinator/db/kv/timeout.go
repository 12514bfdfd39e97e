package kv

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/coordinator/types"
)

func getTimeouts(tx *bolt.Tx, ceremonyID, userID string) ([]*types.Timeout, error) {
	var timeouts []*types.Timeout
	err := prefixScan(tx, timeoutsBucket, prefixKey(ceremonyID, userID), func(_, v []byte) error {
		timeout := &types.Timeout{}
		if err := decode(v, timeout); err != nil {
			return err
		}
		timeouts = append(timeouts, timeout)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(timeouts, func(i, j int) bool {
		return timeouts[i].StartDate < timeouts[j].StartDate
	})
	return timeouts, nil
}

func putTimeout(tx *bolt.Tx, ceremonyID, userID string, timeout *types.Timeout) error {
	enc, err := encode(timeout)
	if err != nil {
		return err
	}
	return tx.Bucket(timeoutsBucket).Put(compositeKey(ceremonyID, userID, timeout.ID), enc)
}

// Timeouts returns the penalty records of a participant ordered by start
// date.
func (s *Store) Timeouts(ctx context.Context, ceremonyID, userID string) ([]*types.Timeout, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Timeouts")
	defer span.End()
	var timeouts []*types.Timeout
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		timeouts, err = getTimeouts(tx, ceremonyID, userID)
		return err
	})
	return timeouts, err
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

// SaveTimeout writes the timeout document in its own transaction.
func (s *Store) SaveTimeout(ctx context.Context, ceremonyID, userID string, timeout *types.Timeout) error {
	_, span := trace.StartSpan(ctx, "coordinatorDB.SaveTimeout")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		return putTimeout(tx, ceremonyID, userID, timeout)
	})
}
