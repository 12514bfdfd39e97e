package ceremony

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/async"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

// Config options for the ceremony lifecycle service.
type Config struct {
	Database iface.Database
	// CheckInterval defaults to the configured lifecycle cadence when zero.
	CheckInterval time.Duration
}

// Service flips ceremonies between lifecycle states on schedule: SCHEDULED
// ceremonies open at startDate and OPENED ones close at endDate. The
// cadence bounds transition latency only; each flip re-checks its guard in
// a transaction.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the lifecycle service.
func New(ctx context.Context, cfg *Config) *Service {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Duration(params.CeremonyConfig().LifecycleCheckIntervalMinutes) * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start schedules the periodic lifecycle sweep, running one immediately so
// a restarted coordinator catches up without waiting a full interval.
func (s *Service) Start() {
	log.WithField("interval", s.cfg.CheckInterval).Info("Ceremony lifecycle service started")
	go s.Advance(s.ctx)
	async.RunEvery(s.ctx, s.cfg.CheckInterval, func() {
		s.Advance(s.ctx)
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

// Advance opens every SCHEDULED ceremony whose start date passed and closes
// every OPENED ceremony whose end date passed. A SCHEDULED ceremony whose
// whole window already elapsed goes straight to CLOSED.
func (s *Service) Advance(ctx context.Context) {
	now := mtime.NowMillis()
	scheduled, err := s.cfg.Database.Ceremonies(ctx, types.CeremonyScheduled)
	if err != nil {
		log.WithError(err).Error("Could not sweep scheduled ceremonies")
		return
	}
	for _, c := range scheduled {
		if c.StartDate > now {
			continue
		}
		to := types.CeremonyOpened
		if c.EndDate <= now {
			to = types.CeremonyClosed
		}
		if err := s.transition(ctx, c.ID, types.CeremonyScheduled, to); err != nil {
			log.WithError(err).WithField("ceremony", c.ID).Error("Could not open ceremony")
		}
	}
	opened, err := s.cfg.Database.Ceremonies(ctx, types.CeremonyOpened)
	if err != nil {
		log.WithError(err).Error("Could not sweep opened ceremonies")
		return
	}
	for _, c := range opened {
		if c.EndDate > now {
			continue
		}
		if err := s.transition(ctx, c.ID, types.CeremonyOpened, types.CeremonyClosed); err != nil {
			log.WithError(err).WithField("ceremony", c.ID).Error("Could not close ceremony")
		}
	}
}

// transition flips the ceremony from one lifecycle state to the next,
// re-checking the current state inside the transaction so overlapping
// sweeps commit the flip exactly once.
func (s *Service) transition(ctx context.Context, ceremonyID string, from, to types.CeremonyState) error {
	return s.cfg.Database.RunTransaction(ctx, func(tx iface.Txn) error {
		ceremony, err := tx.Ceremony(ceremonyID)
		if err != nil {
			return err
		}
		if ceremony == nil || ceremony.State != from {
			return nil
		}
		ceremony.State = to
		ceremony.LastUpdated = mtime.NowMillis()
		if err := tx.SaveCeremony(ceremony); err != nil {
			return err
		}
		lifecycleTransitions.WithLabelValues(string(to)).Inc()
		log.WithFields(logrus.Fields{
			"ceremony": ceremony.Prefix,
			"state":    to,
		}).Info("Ceremony lifecycle transition")
		return nil
	})
}
