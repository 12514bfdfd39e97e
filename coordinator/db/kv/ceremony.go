package kv

import (
	"bytes"
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/types"
)

func getCeremony(tx *bolt.Tx, ceremonyID string) (*types.Ceremony, error) {
	enc := tx.Bucket(ceremoniesBucket).Get([]byte(ceremonyID))
	if enc == nil {
		return nil, nil
	}
	ceremony := &types.Ceremony{}
	if err := decode(enc, ceremony); err != nil {
		return nil, err
	}
	return ceremony, nil
}

func putCeremony(tx *bolt.Tx, ceremony *types.Ceremony) error {
	enc, err := encode(ceremony)
	if err != nil {
		return err
	}
	return tx.Bucket(ceremoniesBucket).Put([]byte(ceremony.ID), enc)
}

// Ceremony returns the ceremony document, or nil when absent. Hot
// ceremonies are served from the read cache.
func (s *Store) Ceremony(ctx context.Context, ceremonyID string) (*types.Ceremony, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Ceremony")
	defer span.End()
	if cached, ok := s.ceremonyCache.Get(ceremonyID); ok {
		if ceremony, ok := cached.(*types.Ceremony); ok {
			return ceremony, nil
		}
	}
	var ceremony *types.Ceremony
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		ceremony, err = getCeremony(tx, ceremonyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ceremony != nil {
		s.ceremonyCache.Set(ceremonyID, ceremony, 1)
	}
	return ceremony, nil
}

// CeremonyByPrefix returns the ceremony carrying the unique prefix, or nil.
func (s *Store) CeremonyByPrefix(ctx context.Context, prefix string) (*types.Ceremony, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.CeremonyByPrefix")
	defer span.End()
	var found *types.Ceremony
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(ceremoniesBucket).ForEach(func(_, v []byte) error {
			ceremony := &types.Ceremony{}
			if err := decode(v, ceremony); err != nil {
				return err
			}
			if ceremony.Prefix == prefix {
				found = ceremony
			}
			return nil
		})
	})
	return found, err
}

// Ceremonies returns all ceremonies, filtered to the given states when any
// are passed, sorted by start date.
func (s *Store) Ceremonies(ctx context.Context, states ...types.CeremonyState) ([]*types.Ceremony, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Ceremonies")
	defer span.End()
	wanted := make(map[types.CeremonyState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	var ceremonies []*types.Ceremony
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(ceremoniesBucket).ForEach(func(_, v []byte) error {
			ceremony := &types.Ceremony{}
			if err := decode(v, ceremony); err != nil {
				return err
			}
			if len(wanted) == 0 || wanted[ceremony.State] {
				ceremonies = append(ceremonies, ceremony)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ceremonies, func(i, j int) bool {
		return ceremonies[i].StartDate < ceremonies[j].StartDate
	})
	return ceremonies, nil
}

// SaveCeremony writes the ceremony document in its own transaction.
func (s *Store) SaveCeremony(ctx context.Context, ceremony *types.Ceremony) error {
	_, span := trace.StartSpan(ctx, "coordinatorDB.SaveCeremony")
	defer span.End()
	if err := s.update(func(tx *bolt.Tx) error {
		return putCeremony(tx, ceremony)
	}); err != nil {
		return err
	}
	s.emit([]interface{}{feed.CeremonyEvent{Ceremony: ceremony}})
	return nil
}

func prefixScan(tx *bolt.Tx, bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := tx.Bucket(bucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
