package queue

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/participant"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

const eventChanSize = 64

// Config options for the queue coordinator service.
type Config struct {
	Database iface.Database
}

// Service reacts to record-store change events so queues advance without
// any client driving them: READY participants are admitted into their
// circuit's FIFO, persisted verification results pop the head and promote
// the successor, and participants who finished every circuit are settled
// as DONE.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the queue coordinator service.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins routing record-store events.
func (s *Service) Start() {
	go s.run()
}

// Stop unsubscribes from the record store feeds.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always returns nil.
func (s *Service) Status() error {
	return nil
}

func (s *Service) run() {
	participantCh := make(chan feed.ParticipantEvent, eventChanSize)
	contributionCh := make(chan feed.ContributionEvent, eventChanSize)
	participantSub := s.cfg.Database.SubscribeParticipantEvents(participantCh)
	contributionSub := s.cfg.Database.SubscribeContributionEvents(contributionCh)
	defer participantSub.Unsubscribe()
	defer contributionSub.Unsubscribe()

	// Transitions whose change events fired while the coordinator was down
	// are replayed from persisted state before live routing begins.
	s.reconcile(s.ctx)

	log.Info("Queue coordinator started")
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-participantCh:
			if err := s.handleParticipantEvent(s.ctx, ev); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"ceremony":    ev.CeremonyID,
					"participant": ev.Participant.UserID,
				}).Error("Could not route participant event")
			}
		case ev := <-contributionCh:
			if err := s.handleContributionEvent(s.ctx, ev); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"ceremony": ev.CeremonyID,
					"circuit":  ev.CircuitID,
				}).Error("Could not route contribution event")
			}
		case err := <-participantSub.Err():
			log.WithError(err).Error("Participant feed closed")
			return
		case err := <-contributionSub.Err():
			log.WithError(err).Error("Contribution feed closed")
			return
		}
	}
}

// reconcile sweeps the opened ceremonies for transitions the event loop
// never saw: READY participants not yet queued, finished participants not
// yet settled, and verification results persisted while no routing was
// listening. Every action re-checks its guards inside its own transaction,
// so sweeping live state is harmless.
func (s *Service) reconcile(ctx context.Context) {
	ceremonies, err := s.cfg.Database.Ceremonies(ctx, types.CeremonyOpened)
	if err != nil {
		log.WithError(err).Error("Could not sweep ceremonies for missed transitions")
		return
	}
	for _, ceremony := range ceremonies {
		participants, err := s.cfg.Database.Participants(ctx, ceremony.ID)
		if err != nil {
			log.WithError(err).WithField("ceremony", ceremony.ID).Error("Could not sweep participants")
			continue
		}
		for _, p := range participants {
			var err error
			switch p.Status {
			case types.StatusReady:
				err = s.admitReadyParticipant(ctx, ceremony.ID, p.UserID)
			case types.StatusContributed:
				err = s.promoteFinishedParticipant(ctx, ceremony.ID, p.UserID)
			}
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"ceremony":    ceremony.ID,
					"participant": p.UserID,
				}).Error("Could not replay participant transition")
			}
		}
		circuits, err := s.cfg.Database.Circuits(ctx, ceremony.ID)
		if err != nil {
			log.WithError(err).WithField("ceremony", ceremony.ID).Error("Could not sweep circuits")
			continue
		}
		for _, circuit := range circuits {
			head := circuit.WaitingQueue.CurrentContributor
			if head == "" {
				continue
			}
			contributions, err := s.cfg.Database.Contributions(ctx, ceremony.ID, circuit.ID)
			if err != nil {
				log.WithError(err).WithField("circuit", circuit.ID).Error("Could not sweep contributions")
				continue
			}
			for _, c := range contributions {
				if c.ParticipantID != head || c.ZkeyIndex == types.FinalZkeyIndex {
					continue
				}
				if err := s.settleVerifiedContribution(ctx, ceremony.ID, circuit.ID, c.ID, head); err != nil {
					log.WithError(err).WithField("circuit", circuit.ID).Error("Could not replay contribution settlement")
				}
				break
			}
		}
	}
}

// handleParticipantEvent admits READY participants and settles finished
// ones. Stale or replayed events fall through the in-transaction guards.
func (s *Service) handleParticipantEvent(ctx context.Context, ev feed.ParticipantEvent) error {
	if ev.Participant == nil {
		return nil
	}
	switch ev.Participant.Status {
	case types.StatusReady:
		return s.admitReadyParticipant(ctx, ev.CeremonyID, ev.Participant.UserID)
	case types.StatusContributed:
		return s.promoteFinishedParticipant(ctx, ev.CeremonyID, ev.Participant.UserID)
	default:
		return nil
	}
}

// handleContributionEvent pops the queue head whose verification result was
// just persisted. The final beacon contribution has no queue to advance.
func (s *Service) handleContributionEvent(ctx context.Context, ev feed.ContributionEvent) error {
	if ev.Contribution == nil || ev.Contribution.ZkeyIndex == types.FinalZkeyIndex {
		return nil
	}
	return s.settleVerifiedContribution(ctx, ev.CeremonyID, ev.CircuitID, ev.Contribution.ID, ev.Contribution.ParticipantID)
}

// admitReadyParticipant enqueues the participant into the circuit at their
// contribution progress. An empty queue grants the slot immediately.
func (s *Service) admitReadyParticipant(ctx context.Context, ceremonyID, userID string) error {
	return s.cfg.Database.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil || p.Status != types.StatusReady {
			return nil
		}
		circuits, err := tx.Circuits(ceremonyID)
		if err != nil {
			return err
		}
		var circuit *types.Circuit
		for _, c := range circuits {
			if c.SequencePosition == p.ContributionProgress {
				circuit = c
				break
			}
		}
		if circuit == nil {
			return errors.Errorf("ceremony %s has no circuit at sequence position %d", ceremonyID, p.ContributionProgress)
		}
		return Enqueue(tx, ceremonyID, circuit, p)
	})
}

// promoteFinishedParticipant moves a participant who contributed to every
// circuit to DONE. The ceremony coordinator stays CONTRIBUTED: their next
// state is FINALIZING, entered when finalization is prepared.
func (s *Service) promoteFinishedParticipant(ctx context.Context, ceremonyID, userID string) error {
	return s.cfg.Database.RunTransaction(ctx, func(tx iface.Txn) error {
		ceremony, err := tx.Ceremony(ceremonyID)
		if err != nil {
			return err
		}
		if ceremony == nil {
			return errors.Errorf("ceremony %s not found", ceremonyID)
		}
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil || p.Status != types.StatusContributed {
			return nil
		}
		if ceremony.CoordinatorID == userID {
			return nil
		}
		p.Status = types.StatusDone
		p.LastUpdated = mtime.NowMillis()
		if err := tx.SaveParticipant(ceremonyID, p); err != nil {
			return err
		}
		donePromotionsTotal.Inc()
		return nil
	})
}

// settleVerifiedContribution runs the post-verification refresh and the
// queue pop in one transaction, so no reader ever observes a popped head
// that still looks mid-contribution.
func (s *Service) settleVerifiedContribution(ctx context.Context, ceremonyID, circuitID, contributionID, participantID string) error {
	return s.cfg.Database.RunTransaction(ctx, func(tx iface.Txn) error {
		circuits, err := tx.Circuits(ceremonyID)
		if err != nil {
			return err
		}
		var circuit *types.Circuit
		for _, c := range circuits {
			if c.ID == circuitID {
				circuit = c
				break
			}
		}
		if circuit == nil {
			return errors.Errorf("circuit %s not found in ceremony %s", circuitID, ceremonyID)
		}
		if circuit.WaitingQueue.CurrentContributor != participantID {
			// Already settled by an earlier delivery of this event.
			return nil
		}
		popped, err := tx.Participant(ceremonyID, participantID)
		if err != nil {
			return err
		}
		if popped == nil {
			return errors.Errorf("participant %s not found in ceremony %s", participantID, ceremonyID)
		}
		if !popped.CurrentContributor(circuit) || popped.ContributionStep != types.StepVerifying {
			return nil
		}
		var successor *types.Participant
		if successorID := Successor(circuit); successorID != "" {
			successor, err = tx.Participant(ceremonyID, successorID)
			if err != nil {
				return err
			}
		}
		participant.RefreshAfterVerification(popped, contributionID, int64(len(circuits)), mtime.NowMillis())
		if err := Dequeue(tx, ceremonyID, circuit, popped, successor, ReasonCompleted); err != nil {
			return err
		}
		return tx.SaveParticipant(ceremonyID, popped)
	})
}
