// Package ceremony owns the ceremony documents themselves: coordinator
// setup, bucket provisioning, the scheduled open/close lifecycle and the
// finalization commits. Everything that touches an individual participant
// or a circuit's queue lives in the participant and queue packages.
package ceremony

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/storage"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

var log = logrus.WithField("prefix", "ceremony")

// prefixPattern admits the URL-safe prefixes that double as object-store
// path segments.
var prefixPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Manager executes the coordinator-only ceremony operations.
type Manager struct {
	db    iface.Database
	store storage.Store
}

// NewManager creates a ceremony manager on the given record and object
// stores.
func NewManager(db iface.Database, store storage.Store) *Manager {
	return &Manager{db: db, store: store}
}

// SetupCeremony validates and persists a new ceremony with its circuits in
// one transaction. The ceremony starts SCHEDULED; the lifecycle job opens
// it at startDate. Returns the ceremony id.
func (m *Manager) SetupCeremony(ctx context.Context, req *api.SetupCeremonyRequest, coordinatorID string) (string, error) {
	ceremony := req.Ceremony
	if !prefixPattern.MatchString(ceremony.Prefix) {
		return "", api.Errorf(api.CodeInvalidArgument, "ceremony prefix %q is not URL-safe", ceremony.Prefix)
	}
	if ceremony.StartDate <= 0 || ceremony.EndDate <= ceremony.StartDate {
		return "", api.Errorf(api.CodeInvalidArgument, "ceremony dates must satisfy 0 < startDate < endDate")
	}
	if len(req.Circuits) == 0 {
		return "", api.Errorf(api.CodeInvalidArgument, "a ceremony needs at least one circuit")
	}
	if ceremony.TimeoutMechanism == "" {
		ceremony.TimeoutMechanism = types.TimeoutDynamic
	}
	if ceremony.TimeoutMechanism != types.TimeoutDynamic && ceremony.TimeoutMechanism != types.TimeoutFixed {
		return "", api.Errorf(api.CodeInvalidArgument, "unknown timeout mechanism %q", ceremony.TimeoutMechanism)
	}
	if ceremony.Type == "" {
		ceremony.Type = types.CeremonyPhase2
	}
	if err := validateCircuits(req.Circuits, ceremony.TimeoutMechanism); err != nil {
		return "", err
	}

	existing, err := m.db.CeremonyByPrefix(ctx, ceremony.Prefix)
	if err != nil {
		return "", errors.Wrap(err, "could not check ceremony prefix")
	}
	if existing != nil {
		return "", api.Errorf(api.CodeFailedPrecondition, "ceremony prefix %q is already taken", ceremony.Prefix)
	}

	now := mtime.NowMillis()
	if ceremony.ID == "" {
		ceremony.ID = uuid.NewString()
	}
	ceremony.State = types.CeremonyScheduled
	ceremony.CoordinatorID = coordinatorID
	ceremony.LastUpdated = now
	err = m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		if err := tx.SaveCeremony(&ceremony); err != nil {
			return err
		}
		for i := range req.Circuits {
			circuit := req.Circuits[i]
			if circuit.ID == "" {
				circuit.ID = uuid.NewString()
			}
			// Queue state and timings always start from zero, whatever the
			// request carried.
			circuit.WaitingQueue = types.WaitingQueue{}
			circuit.AvgTimings = types.CircuitTimings{}
			circuit.LastUpdated = now
			if err := tx.SaveCircuit(ceremony.ID, &circuit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.WithFields(logrus.Fields{
		"prefix":   ceremony.Prefix,
		"circuits": len(req.Circuits),
	}).Info("Ceremony scheduled")
	return ceremony.ID, nil
}

func validateCircuits(circuits []types.Circuit, mech types.TimeoutMechanismType) error {
	prefixes := make(map[string]bool, len(circuits))
	positions := make([]bool, len(circuits)+1)
	for i := range circuits {
		c := &circuits[i]
		if !prefixPattern.MatchString(c.Prefix) {
			return api.Errorf(api.CodeInvalidArgument, "circuit prefix %q is not URL-safe", c.Prefix)
		}
		if prefixes[c.Prefix] {
			return api.Errorf(api.CodeInvalidArgument, "duplicate circuit prefix %q", c.Prefix)
		}
		prefixes[c.Prefix] = true
		pos := c.SequencePosition
		if pos < 1 || pos > int64(len(circuits)) {
			return api.Errorf(api.CodeInvalidArgument, "circuit sequence positions must be contiguous from 1, got %d", pos)
		}
		if positions[pos] {
			return api.Errorf(api.CodeInvalidArgument, "duplicate circuit sequence position %d", pos)
		}
		positions[pos] = true
		if mech == types.TimeoutFixed && c.FixedTimeWindow <= 0 {
			return api.Errorf(api.CodeInvalidArgument, "circuit %q needs a fixedTimeWindow under the FIXED timeout mechanism", c.Prefix)
		}
	}
	return nil
}

// CreateBucket provisions the ceremony's object-store bucket,
// <prefix><postfix>. Returns the bucket name.
func (m *Manager) CreateBucket(ctx context.Context, ceremonyID, userID string) (string, error) {
	ceremony, err := m.db.Ceremony(ctx, ceremonyID)
	if err != nil {
		return "", errors.Wrap(err, "could not read ceremony")
	}
	if ceremony == nil {
		return "", api.Errorf(api.CodeNotFound, "ceremony %s not found", ceremonyID)
	}
	if ceremony.CoordinatorID != userID {
		return "", api.Errorf(api.CodePermissionDenied, "only the ceremony coordinator may provision its bucket")
	}
	bucket := api.BucketName(ceremony.Prefix)
	exists, err := m.store.BucketExists(ctx, bucket)
	if err != nil {
		return "", errors.Wrap(err, "could not check bucket")
	}
	if exists {
		return "", api.Errorf(api.CodeAlreadyExists, "bucket %s already exists", bucket)
	}
	if err := m.store.CreateBucket(ctx, bucket); err != nil {
		return "", errors.Wrapf(err, "could not create bucket %s", bucket)
	}
	log.WithField("bucket", bucket).Info("Ceremony bucket provisioned")
	return bucket, nil
}
