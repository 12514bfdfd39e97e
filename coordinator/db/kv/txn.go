package kv

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
)

// storeTxn adapts one bolt.Tx to the record store Txn interface, staging
// change events for emission after the transaction commits.
type storeTxn struct {
	tx     *bolt.Tx
	staged []interface{}
}

var _ iface.Txn = (*storeTxn)(nil)

// RunTransaction executes fn inside a single bolt update transaction. The
// staged change events are emitted only after a successful commit, so
// subscribers never observe rolled-back writes.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx iface.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := &storeTxn{}
	if err := s.db.Update(func(btx *bolt.Tx) error {
		txn.tx = btx
		txn.staged = txn.staged[:0]
		return fn(txn)
	}); err != nil {
		return err
	}
	s.emit(txn.staged)
	return nil
}

func (s *Store) emit(staged []interface{}) {
	for _, ev := range staged {
		switch e := ev.(type) {
		case feed.CeremonyEvent:
			s.ceremonyCache.Del(e.Ceremony.ID)
			s.ceremonyFeed.Send(e)
		case feed.CircuitEvent:
			s.circuitFeed.Send(e)
		case feed.ParticipantEvent:
			s.participantFeed.Send(e)
		case feed.ContributionEvent:
			s.contributionFeed.Send(e)
		}
	}
}

func (t *storeTxn) Ceremony(ceremonyID string) (*types.Ceremony, error) {
	return getCeremony(t.tx, ceremonyID)
}

func (t *storeTxn) Circuit(ceremonyID, circuitID string) (*types.Circuit, error) {
	return getCircuit(t.tx, ceremonyID, circuitID)
}

func (t *storeTxn) Circuits(ceremonyID string) ([]*types.Circuit, error) {
	return getCircuits(t.tx, ceremonyID)
}

func (t *storeTxn) Participant(ceremonyID, userID string) (*types.Participant, error) {
	return getParticipant(t.tx, ceremonyID, userID)
}

func (t *storeTxn) Contributions(ceremonyID, circuitID string) ([]*types.Contribution, error) {
	return getContributions(t.tx, ceremonyID, circuitID)
}

func (t *storeTxn) Timeouts(ceremonyID, userID string) ([]*types.Timeout, error) {
	return getTimeouts(t.tx, ceremonyID, userID)
}

func (t *storeTxn) SaveCeremony(ceremony *types.Ceremony) error {
	if err := putCeremony(t.tx, ceremony); err != nil {
		return err
	}
	t.staged = append(t.staged, feed.CeremonyEvent{Ceremony: ceremony})
	return nil
}

func (t *storeTxn) SaveCircuit(ceremonyID string, circuit *types.Circuit) error {
	if err := putCircuit(t.tx, ceremonyID, circuit); err != nil {
		return err
	}
	t.staged = append(t.staged, feed.CircuitEvent{CeremonyID: ceremonyID, Circuit: circuit})
	return nil
}

func (t *storeTxn) SaveParticipant(ceremonyID string, participant *types.Participant) error {
	if err := putParticipant(t.tx, ceremonyID, participant); err != nil {
		return err
	}
	t.staged = append(t.staged, feed.ParticipantEvent{CeremonyID: ceremonyID, Participant: participant})
	return nil
}

func (t *storeTxn) SaveContribution(ceremonyID, circuitID string, contribution *types.Contribution) error {
	if err := putContribution(t.tx, ceremonyID, circuitID, contribution); err != nil {
		return err
	}
	t.staged = append(t.staged, feed.ContributionEvent{
		CeremonyID:   ceremonyID,
		CircuitID:    circuitID,
		Contribution: contribution,
	})
	return nil
}

func (t *storeTxn) SaveTimeout(ceremonyID, userID string, timeout *types.Timeout) error {
	return putTimeout(t.tx, ceremonyID, userID, timeout)
}
