// Package timeout evicts current contributors that exceeded their budget so
// a circuit's queue can progress past a crashed or stalling client. It runs
// as a periodic sweep; every eviction decision is re-checked inside its own
// record-store transaction, so overlapping sweeps and races with the queue
// coordinator resolve to a single eviction.
package timeout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/async"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/queue"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

var log = logrus.WithField("prefix", "timeout")

// Config options for the timeout controller.
type Config struct {
	Database iface.Database
	// CheckInterval defaults to the configured sweep cadence when zero.
	CheckInterval time.Duration
}

// Service periodically sweeps the opened ceremonies for blocking
// contributors. The cadence bounds detection latency only; correctness
// comes from the per-eviction transaction.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the timeout controller.
func New(ctx context.Context, cfg *Config) *Service {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Duration(params.CeremonyConfig().TimeoutCheckIntervalMinutes) * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start schedules the periodic sweep.
func (s *Service) Start() {
	log.WithField("interval", s.cfg.CheckInterval).Info("Timeout controller started")
	async.RunEvery(s.ctx, s.cfg.CheckInterval, func() {
		s.Sweep(s.ctx)
	})
}

// Stop halts the periodic sweep.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always returns nil.
func (s *Service) Status() error {
	return nil
}

// Sweep walks every opened, not yet expired ceremony and evicts the current
// contributors whose deadline passed. Errors are logged per circuit; one
// stuck document never stalls the rest of the sweep.
func (s *Service) Sweep(ctx context.Context) {
	ceremonies, err := s.cfg.Database.Ceremonies(ctx, types.CeremonyOpened)
	if err != nil {
		log.WithError(err).Error("Could not sweep ceremonies for blocking contributors")
		return
	}
	now := mtime.NowMillis()
	for _, ceremony := range ceremonies {
		if ceremony.EndDate < now {
			continue
		}
		circuits, err := s.cfg.Database.Circuits(ctx, ceremony.ID)
		if err != nil {
			log.WithError(err).WithField("ceremony", ceremony.ID).Error("Could not sweep circuits")
			continue
		}
		for _, circuit := range circuits {
			if circuit.WaitingQueue.CurrentContributor == "" {
				continue
			}
			if err := s.evictIfOverrun(ctx, ceremony.ID, circuit.ID); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"ceremony": ceremony.ID,
					"circuit":  circuit.ID,
				}).Error("Could not evict blocking contributor")
			}
		}
	}
}

// evictIfOverrun re-reads the ceremony, circuit and slot holder inside one
// transaction, recomputes the budget and, when the deadline passed, pops the
// head with reason evicted, marks it TIMEDOUT and records the penalty
// interval. A head that moved on since the sweep enumerated it falls
// through the guards untouched.
func (s *Service) evictIfOverrun(ctx context.Context, ceremonyID, circuitID string) error {
	return s.cfg.Database.RunTransaction(ctx, func(tx iface.Txn) error {
		ceremony, err := tx.Ceremony(ceremonyID)
		if err != nil {
			return err
		}
		now := mtime.NowMillis()
		if ceremony == nil || ceremony.State != types.CeremonyOpened || ceremony.EndDate < now {
			return nil
		}
		circuit, err := tx.Circuit(ceremonyID, circuitID)
		if err != nil {
			return err
		}
		if circuit == nil || circuit.WaitingQueue.CurrentContributor == "" {
			return nil
		}
		popped, err := tx.Participant(ceremonyID, circuit.WaitingQueue.CurrentContributor)
		if err != nil {
			return err
		}
		if popped == nil {
			return nil
		}
		startedAt, budget, timeoutType := contributionBudget(ceremony, circuit, popped)
		if budget <= 0 {
			// No timing signal yet. The first contributor of a DYNAMIC
			// circuit runs unbudgeted until averages exist.
			return nil
		}
		if startedAt+budget >= now {
			return nil
		}
		var successor *types.Participant
		if successorID := queue.Successor(circuit); successorID != "" {
			successor, err = tx.Participant(ceremonyID, successorID)
			if err != nil {
				return err
			}
		}
		if err := queue.Dequeue(tx, ceremonyID, circuit, popped, successor, queue.ReasonEvicted); err != nil {
			return err
		}
		popped.Status = types.StatusTimedOut
		popped.LastUpdated = now
		if err := tx.SaveParticipant(ceremonyID, popped); err != nil {
			return err
		}
		penalty := penaltyMinutes(ceremony)
		if err := tx.SaveTimeout(ceremonyID, popped.UserID, &types.Timeout{
			ID:        uuid.NewString(),
			StartDate: now,
			EndDate:   now + penalty*60_000,
			Type:      timeoutType,
		}); err != nil {
			return err
		}
		penaltiesTotal.WithLabelValues(string(timeoutType)).Inc()
		log.WithFields(logrus.Fields{
			"ceremony":       ceremonyID,
			"circuit":        circuit.Prefix,
			"participant":    popped.UserID,
			"type":           timeoutType,
			"penaltyMinutes": penalty,
		}).Info("Evicted blocking contributor")
		return nil
	})
}

// contributionBudget returns the instant the running attempt started, the
// budget in milliseconds it may consume, and the timeout type an overrun
// would record. A contributor stuck in server-side verification is measured
// against the verification budget alone; every earlier step is measured
// against the full contribution budget.
func contributionBudget(ceremony *types.Ceremony, circuit *types.Circuit, p *types.Participant) (startedAt, budget int64, t types.TimeoutType) {
	verifying := p.ContributionStep == types.StepVerifying && p.VerificationStartedAt > 0
	if ceremony.TimeoutMechanism == types.TimeoutFixed {
		budget = circuit.FixedTimeWindow * 60_000
	} else {
		sum := circuit.AvgTimings.FullContribution + circuit.AvgTimings.VerifyContribution
		if verifying {
			sum = circuit.AvgTimings.VerifyContribution
		}
		rate := params.CeremonyConfig().TimeoutToleranceRate
		if circuit.DynamicThreshold > 0 {
			rate = circuit.DynamicThreshold
		}
		budget = sum + sum*rate/100
	}
	if verifying {
		return p.VerificationStartedAt, budget, types.TimeoutBlockingCloudFunction
	}
	return p.ContributionStartedAt, budget, types.TimeoutBlockingContribution
}

// penaltyMinutes resolves the ceremony's penalty, falling back to the
// configured retry waiting time when the document declares none.
func penaltyMinutes(ceremony *types.Ceremony) int64 {
	if ceremony.PenaltyMinutes > 0 {
		return ceremony.PenaltyMinutes
	}
	return params.CeremonyConfig().RetryWaitingTimeInDays * 24 * 60
}
