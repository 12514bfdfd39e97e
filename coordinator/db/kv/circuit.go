package kv

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/types"
)

func getCircuit(tx *bolt.Tx, ceremonyID, circuitID string) (*types.Circuit, error) {
	enc := tx.Bucket(circuitsBucket).Get(compositeKey(ceremonyID, circuitID))
	if enc == nil {
		return nil, nil
	}
	circuit := &types.Circuit{}
	if err := decode(enc, circuit); err != nil {
		return nil, err
	}
	return circuit, nil
}

func getCircuits(tx *bolt.Tx, ceremonyID string) ([]*types.Circuit, error) {
	var circuits []*types.Circuit
	err := prefixScan(tx, circuitsBucket, prefixKey(ceremonyID), func(_, v []byte) error {
		circuit := &types.Circuit{}
		if err := decode(v, circuit); err != nil {
			return err
		}
		circuits = append(circuits, circuit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(circuits, func(i, j int) bool {
		return circuits[i].SequencePosition < circuits[j].SequencePosition
	})
	return circuits, nil
}

func putCircuit(tx *bolt.Tx, ceremonyID string, circuit *types.Circuit) error {
	enc, err := encode(circuit)
	if err != nil {
		return err
	}
	return tx.Bucket(circuitsBucket).Put(compositeKey(ceremonyID, circuit.ID), enc)
}

// Circuit returns one circuit document, or nil when absent.
func (s *Store) Circuit(ctx context.Context, ceremonyID, circuitID string) (*types.Circuit, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Circuit")
	defer span.End()
	var circuit *types.Circuit
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		circuit, err = getCircuit(tx, ceremonyID, circuitID)
		return err
	})
	return circuit, err
}

// Circuits returns the circuits of a ceremony in sequence order.
func (s *Store) Circuits(ctx context.Context, ceremonyID string) ([]*types.Circuit, error) {
	_, span := trace.StartSpan(ctx, "coordinatorDB.Circuits")
	defer span.End()
	var circuits []*types.Circuit
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		circuits, err = getCircuits(tx, ceremonyID)
		return err
	})
	return circuits, err
}

// SaveCircuit writes the circuit document in its own transaction.
func (s *Store) SaveCircuit(ctx context.Context, ceremonyID string, circuit *types.Circuit) error {
	_, span := trace.StartSpan(ctx, "coordinatorDB.SaveCircuit")
	defer span.End()
	if err := s.update(func(tx *bolt.Tx) error {
		return putCircuit(tx, ceremonyID, circuit)
	}); err != nil {
		return err
	}
	s.emit([]interface{}{feed.CircuitEvent{CeremonyID: ceremonyID, Circuit: circuit}})
	return nil
}
