package firestoredb

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
)

// storeTxn adapts one Firestore transaction to the record store Txn
// interface. Firestore enforces the reads-before-writes rule itself and
// retries fn on contention, which is why Txn callbacks must be idempotent.
type storeTxn struct {
	s  *Store
	tx *firestore.Transaction
}

var _ iface.Txn = (*storeTxn)(nil)

// RunTransaction executes fn inside a Firestore transaction. Change feed
// events for the committed writes arrive through the snapshot listeners.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx iface.Txn) error) error {
	return s.client.RunTransaction(ctx, func(_ context.Context, ftx *firestore.Transaction) error {
		return fn(&storeTxn{s: s, tx: ftx})
	})
}

func (t *storeTxn) Ceremony(ceremonyID string) (*types.Ceremony, error) {
	snap, err := t.tx.Get(t.s.ceremonyDoc(ceremonyID))
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

func (t *storeTxn) Circuit(ceremonyID, circuitID string) (*types.Circuit, error) {
	snap, err := t.tx.Get(t.s.circuitsCol(ceremonyID).Doc(circuitID))
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

func (t *storeTxn) Circuits(ceremonyID string) ([]*types.Circuit, error) {
	return decodeCircuits(t.tx.Documents(t.s.circuitsCol(ceremonyID).Query))
}

func (t *storeTxn) Participant(ceremonyID, userID string) (*types.Participant, error) {
	snap, err := t.tx.Get(t.s.participantsCol(ceremonyID).Doc(userID))
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

func (t *storeTxn) Contributions(ceremonyID, circuitID string) ([]*types.Contribution, error) {
	return decodeContributions(t.tx.Documents(t.s.contributionsCol(ceremonyID, circuitID).Query))
}

func (t *storeTxn) Timeouts(ceremonyID, userID string) ([]*types.Timeout, error) {
	iter := t.tx.Documents(t.s.timeoutsCol(ceremonyID, userID).Query)
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
	return timeouts, nil
}

func (t *storeTxn) SaveCeremony(ceremony *types.Ceremony) error {
	doc, err := toDoc(ceremony)
	if err != nil {
		return err
	}
	return t.tx.Set(t.s.ceremonyDoc(ceremony.ID), doc)
}

func (t *storeTxn) SaveCircuit(ceremonyID string, circuit *types.Circuit) error {
	doc, err := toDoc(circuit)
	if err != nil {
		return err
	}
	return t.tx.Set(t.s.circuitsCol(ceremonyID).Doc(circuit.ID), doc)
}

func (t *storeTxn) SaveParticipant(ceremonyID string, participant *types.Participant) error {
	doc, err := toDoc(participant)
	if err != nil {
		return err
	}
	return t.tx.Set(t.s.participantsCol(ceremonyID).Doc(participant.UserID), doc)
}

func (t *storeTxn) SaveContribution(ceremonyID, circuitID string, contribution *types.Contribution) error {
	doc, err := toDoc(contribution)
	if err != nil {
		return err
	}
	return t.tx.Set(t.s.contributionsCol(ceremonyID, circuitID).Doc(contribution.ID), doc)
}

func (t *storeTxn) SaveTimeout(ceremonyID, userID string, timeout *types.Timeout) error {
	doc, err := toDoc(timeout)
	if err != nil {
		return err
	}
	return t.tx.Set(t.s.timeoutsCol(ceremonyID, userID).Doc(timeout.ID), doc)
}
