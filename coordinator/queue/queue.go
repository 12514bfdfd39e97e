// Package queue manages the per-circuit FIFO of contributors. The pure
// Enqueue and Dequeue operations run inside a caller-owned record-store
// transaction; the Service routes record-store events onto them so the
// queue advances without any client driving it.
//
// Transactions demand every read before the first write, so the operations
// here never read: callers stage the circuit, the affected participants and
// the promoted successor up front.
package queue

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

var log = logrus.WithField("prefix", "queue")

// DequeueReason distinguishes a finished contributor from an evicted one.
type DequeueReason string

const (
	// ReasonCompleted pops a contributor whose contribution was processed.
	// The validity counters were already settled by the verification batch.
	ReasonCompleted DequeueReason = "completed"
	// ReasonEvicted pops a contributor removed by the timeout controller
	// and charges the circuit a failed contribution.
	ReasonEvicted DequeueReason = "evicted"
)

// Successor returns the participant promoted when the head of the queue is
// popped, or the empty string when the queue would drain.
func Successor(c *types.Circuit) string {
	if len(c.WaitingQueue.Contributors) < 2 {
		return ""
	}
	return c.WaitingQueue.Contributors[1]
}

// Enqueue admits p into the circuit's FIFO. Re-admitting a queued
// participant changes nothing. A participant admitted into an empty queue
// holds the slot immediately.
func Enqueue(tx iface.Txn, ceremonyID string, circuit *types.Circuit, p *types.Participant) error {
	if circuit.Queued(p.UserID) {
		return nil
	}
	now := mtime.NowMillis()
	circuit.WaitingQueue.Contributors = append(circuit.WaitingQueue.Contributors, p.UserID)
	if circuit.WaitingQueue.CurrentContributor == "" {
		grantSlot(circuit, p, now)
	} else {
		p.Status = types.StatusWaiting
	}
	circuit.LastUpdated = now
	p.LastUpdated = now
	if err := tx.SaveCircuit(ceremonyID, circuit); err != nil {
		return err
	}
	if err := tx.SaveParticipant(ceremonyID, p); err != nil {
		return err
	}
	waitingContributors.WithLabelValues(circuit.Prefix).Set(float64(len(circuit.WaitingQueue.Contributors)))
	return nil
}

// Dequeue pops the head of the circuit's FIFO and promotes successor, which
// the caller read before writing anything. The popped participant is left
// untouched here: its next status belongs to the caller, inside the same
// transaction.
func Dequeue(tx iface.Txn, ceremonyID string, circuit *types.Circuit, popped, successor *types.Participant, reason DequeueReason) error {
	if circuit.WaitingQueue.CurrentContributor != popped.UserID {
		return errors.Errorf("participant %s does not hold the slot of circuit %s", popped.UserID, circuit.ID)
	}
	if len(circuit.WaitingQueue.Contributors) == 0 || circuit.WaitingQueue.Contributors[0] != popped.UserID {
		return errors.Errorf("queue head of circuit %s is out of sync with its current contributor", circuit.ID)
	}
	successorID := Successor(circuit)
	if successorID != "" && (successor == nil || successor.UserID != successorID) {
		return errors.Errorf("successor %s of circuit %s was not staged", successorID, circuit.ID)
	}

	now := mtime.NowMillis()
	circuit.WaitingQueue.Contributors = circuit.WaitingQueue.Contributors[1:]
	circuit.WaitingQueue.CurrentContributor = successorID
	if reason == ReasonEvicted {
		circuit.WaitingQueue.FailedContributions++
		evictionsTotal.Inc()
	}
	circuit.LastUpdated = now
	if err := tx.SaveCircuit(ceremonyID, circuit); err != nil {
		return err
	}
	if successorID != "" {
		grantSlot(circuit, successor, now)
		successor.LastUpdated = now
		if err := tx.SaveParticipant(ceremonyID, successor); err != nil {
			return err
		}
	}
	waitingContributors.WithLabelValues(circuit.Prefix).Set(float64(len(circuit.WaitingQueue.Contributors)))
	log.WithFields(logrus.Fields{
		"circuit": circuit.Prefix,
		"popped":  popped.UserID,
		"reason":  reason,
	}).Debug("Popped queue head")
	return nil
}

func grantSlot(circuit *types.Circuit, p *types.Participant, nowMs int64) {
	circuit.WaitingQueue.CurrentContributor = p.UserID
	p.Status = types.StatusContributing
	p.ContributionStep = types.StepDownloading
	p.ContributionStartedAt = nowMs
	slotGrantsTotal.Inc()
}
