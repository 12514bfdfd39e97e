package ceremony

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

// closedCeremonyForCoordinator loads the ceremony and checks the two
// preconditions shared by every finalization operation.
func (m *Manager) closedCeremonyForCoordinator(ctx context.Context, ceremonyID, userID string) (*types.Ceremony, error) {
	ceremony, err := m.db.Ceremony(ctx, ceremonyID)
	if err != nil {
		return nil, errors.Wrap(err, "could not read ceremony")
	}
	if ceremony == nil {
		return nil, api.Errorf(api.CodeNotFound, "ceremony %s not found", ceremonyID)
	}
	if ceremony.CoordinatorID != userID {
		return nil, api.Errorf(api.CodePermissionDenied, "only the ceremony coordinator may finalize")
	}
	if ceremony.State != types.CeremonyClosed {
		return nil, api.Errorf(api.CodeFailedPrecondition, "ceremony %s is not closed", ceremonyID)
	}
	return ceremony, nil
}

// CheckAndPrepareCoordinatorForFinalization reports whether the coordinator
// may start sealing the circuits of a closed ceremony, moving them from
// CONTRIBUTED to FINALIZING on first call. The answer is false, without
// error, when the coordinator has not contributed to every circuit yet.
func (m *Manager) CheckAndPrepareCoordinatorForFinalization(ctx context.Context, ceremonyID, userID string) (bool, error) {
	if _, err := m.closedCeremonyForCoordinator(ctx, ceremonyID, userID); err != nil {
		return false, err
	}
	eligible := false
	err := m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		circuits, err := tx.Circuits(ceremonyID)
		if err != nil {
			return err
		}
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return api.Errorf(api.CodeNotFound, "coordinator %s never joined ceremony %s", userID, ceremonyID)
		}
		switch {
		case p.Status == types.StatusFinalizing:
			eligible = true
			return nil
		case p.Status == types.StatusContributed && p.ContributionProgress == int64(len(circuits))+1:
			p.Status = types.StatusFinalizing
			p.LastUpdated = mtime.NowMillis()
			eligible = true
			return tx.SaveParticipant(ceremonyID, p)
		default:
			return nil
		}
	})
	if err != nil {
		return false, err
	}
	if eligible {
		log.WithField("ceremony", ceremonyID).Info("Coordinator prepared for finalization")
	}
	return eligible, nil
}

// FinalizeCircuit commits one circuit's seal: it requires a verified valid
// final contribution carrying the given beacon, then links that document
// into the coordinator's contribution list. Re-running after success is a
// no-op.
func (m *Manager) FinalizeCircuit(ctx context.Context, ceremonyID, circuitID, userID, beacon string) error {
	if _, err := m.closedCeremonyForCoordinator(ctx, ceremonyID, userID); err != nil {
		return err
	}
	if beacon == "" {
		return api.Errorf(api.CodeInvalidArgument, "beacon value required")
	}
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		circuit, err := tx.Circuit(ceremonyID, circuitID)
		if err != nil {
			return err
		}
		if circuit == nil {
			return api.Errorf(api.CodeNotFound, "circuit %s not found", circuitID)
		}
		contributions, err := tx.Contributions(ceremonyID, circuitID)
		if err != nil {
			return err
		}
		var final *types.Contribution
		for _, c := range contributions {
			if c.ZkeyIndex == types.FinalZkeyIndex {
				final = c
				break
			}
		}
		if final == nil {
			return api.Errorf(api.CodeFailedPrecondition, "circuit %s has no verified final contribution", circuit.Prefix)
		}
		if !final.Valid {
			return api.Errorf(api.CodeFailedPrecondition, "final contribution of circuit %s failed verification", circuit.Prefix)
		}
		if final.Beacon == nil || final.Beacon.Value != beacon {
			return api.Errorf(api.CodeInvalidArgument, "beacon does not match the sealed final contribution")
		}
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return api.Errorf(api.CodeNotFound, "coordinator %s never joined ceremony %s", userID, ceremonyID)
		}
		for _, ref := range p.Contributions {
			if ref.Doc == final.ID {
				return nil
			}
		}
		linked := false
		for i := range p.Contributions {
			if p.Contributions[i].Doc == "" {
				p.Contributions[i].Doc = final.ID
				linked = true
				break
			}
		}
		if !linked {
			p.Contributions = append(p.Contributions, types.ContributionRef{Doc: final.ID})
		}
		p.LastUpdated = mtime.NowMillis()
		if err := tx.SaveParticipant(ceremonyID, p); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"ceremony": ceremonyID,
			"circuit":  circuit.Prefix,
		}).Info("Circuit finalized")
		return nil
	})
}

// FinalizeCeremony flips a closed ceremony to FINALIZED once every circuit
// carries exactly one valid final contribution, settling the coordinator as
// FINALIZED in the same transaction. A second run fails the closed-state
// precondition.
func (m *Manager) FinalizeCeremony(ctx context.Context, ceremonyID, userID string) error {
	err := m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		ceremony, err := tx.Ceremony(ceremonyID)
		if err != nil {
			return err
		}
		if ceremony == nil {
			return api.Errorf(api.CodeNotFound, "ceremony %s not found", ceremonyID)
		}
		if ceremony.CoordinatorID != userID {
			return api.Errorf(api.CodePermissionDenied, "only the ceremony coordinator may finalize")
		}
		if ceremony.State != types.CeremonyClosed {
			return api.Errorf(api.CodeFailedPrecondition, "ceremony %s is not closed", ceremonyID)
		}
		circuits, err := tx.Circuits(ceremonyID)
		if err != nil {
			return err
		}
		for _, circuit := range circuits {
			contributions, err := tx.Contributions(ceremonyID, circuit.ID)
			if err != nil {
				return err
			}
			finals := 0
			for _, c := range contributions {
				if c.ZkeyIndex == types.FinalZkeyIndex && c.Valid {
					finals++
				}
			}
			if finals != 1 {
				return api.Errorf(api.CodeFailedPrecondition, "circuit %s does not have exactly one valid final contribution", circuit.Prefix)
			}
		}
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		now := mtime.NowMillis()
		if p != nil && p.Status == types.StatusFinalizing {
			p.Status = types.StatusFinalized
			p.LastUpdated = now
			if err := tx.SaveParticipant(ceremonyID, p); err != nil {
				return err
			}
		}
		ceremony.State = types.CeremonyFinalized
		ceremony.LastUpdated = now
		if err := tx.SaveCeremony(ceremony); err != nil {
			return err
		}
		lifecycleTransitions.WithLabelValues(string(types.CeremonyFinalized)).Inc()
		return nil
	})
	if err != nil {
		return err
	}
	log.WithField("ceremony", ceremonyID).Info("Ceremony finalized")
	return nil
}
