// Package verify runs the server side of contribution verification: it
// stages the relevant zkeys from the object store, drives the ceremony
// primitive over them and commits the durable outcome in one record-store
// batch. Verification is synchronous from the caller's point of view; a
// weighted semaphore bounds how many verifications run at once.
package verify

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/storage"
	"github.com/zkmpc/maestro/mpc"
)

var log = logrus.WithField("prefix", "verify")

// Config options for the verification service.
type Config struct {
	Database iface.Database
	Store    storage.Store
	Engine   mpc.Engine
	// ScratchDir roots the per-verification staging directories. Empty
	// means the system temp dir.
	ScratchDir string
	// Workers bounds concurrent verifications. Zero or negative means 1.
	Workers int64
}

// Service verifies uploaded contributions against the ceremony primitive.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
}

// New creates the verification service.
func New(ctx context.Context, cfg *Config) *Service {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(workers),
	}
}

// Start --
func (s *Service) Start() {
	if s.cfg.ScratchDir != "" {
		if err := os.MkdirAll(s.cfg.ScratchDir, 0o700); err != nil {
			log.WithError(err).Error("Could not create verification scratch directory")
		}
	}
	log.WithField("workers", s.cfg.Workers).Info("Verification service started")
}

// Stop aborts verifications still waiting for a worker slot. A verification
// already inside the primitive runs to completion.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status --
func (s *Service) Status() error {
	return nil
}
