package firestoredb

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"

	"github.com/zkmpc/maestro/coordinator/types"
)

// Circuit returns one circuit document, or nil when absent.
func (s *Store) Circuit(ctx context.Context, ceremonyID, circuitID string) (*types.Circuit, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Circuit")
	defer span.End()
	snap, err := s.circuitsCol(ceremonyID).Doc(circuitID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	circuit := &types.Circuit{}
	if err := fromDoc(snap.Data(), circuit); err != nil {
		return nil, err
	}
	return circuit, nil
}

// Circuits returns the circuits of a ceremony in sequence order.
func (s *Store) Circuits(ctx context.Context, ceremonyID string) ([]*types.Circuit, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Circuits")
	defer span.End()
	return decodeCircuits(s.circuitsCol(ceremonyID).Documents(ctx))
}

func decodeCircuits(iter *firestore.DocumentIterator) ([]*types.Circuit, error) {
	defer iter.Stop()
	var circuits []*types.Circuit
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		circuit := &types.Circuit{}
		if err := fromDoc(snap.Data(), circuit); err != nil {
			return nil, err
		}
		circuits = append(circuits, circuit)
	}
	sort.Slice(circuits, func(i, j int) bool {
		return circuits[i].SequencePosition < circuits[j].SequencePosition
	})
	return circuits, nil
}

// SaveCircuit writes the circuit document.
func (s *Store) SaveCircuit(ctx context.Context, ceremonyID string, circuit *types.Circuit) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveCircuit")
	defer span.End()
	doc, err := toDoc(circuit)
	if err != nil {
		return err
	}
	_, err = s.circuitsCol(ceremonyID).Doc(circuit.ID).Set(ctx, doc)
	return err
}
