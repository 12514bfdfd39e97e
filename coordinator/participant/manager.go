// Package participant drives the per-ceremony participant state machine.
// Every operation is one record-store transaction; the persisted document
// is the state, so a crashed client can always be resumed or evicted from
// what the store remembers.
package participant

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/types"
	mtime "github.com/zkmpc/maestro/time"
)

var log = logrus.WithField("prefix", "participant")

// Manager runs the participant state machine against the record store.
type Manager struct {
	db iface.Database
}

// NewManager --
func NewManager(db iface.Database) *Manager {
	return &Manager{db: db}
}

// CheckParticipantForCeremony is the join entry point. It creates the
// participant document on first contact and reports whether the caller may
// proceed towards a contribution right now. A participant whose timeout has
// expired is rewritten to EXHUMED as a side effect. Re-calling without an
// intervening server change returns the same answer and changes nothing.
func (m *Manager) CheckParticipantForCeremony(ctx context.Context, ceremonyID, userID string) (bool, error) {
	ceremony, err := m.db.Ceremony(ctx, ceremonyID)
	if err != nil {
		return false, err
	}
	if ceremony == nil {
		return false, api.Errorf(api.CodeNotFound, "ceremony %s not found", ceremonyID)
	}
	if ceremony.State != types.CeremonyOpened {
		return false, api.Errorf(api.CodeFailedPrecondition, "ceremony %s is not opened for contributions", ceremonyID)
	}

	canContribute := false
	err = m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		now := mtime.NowMillis()
		if p == nil {
			canContribute = true
			return tx.SaveParticipant(ceremonyID, &types.Participant{
				UserID:      userID,
				Status:      types.StatusCreated,
				LastUpdated: now,
			})
		}
		switch p.Status {
		case types.StatusDone, types.StatusFinalized:
			canContribute = false
			return nil
		case types.StatusContributing:
			canContribute = false
			return nil
		case types.StatusTimedOut:
			timeouts, err := tx.Timeouts(ceremonyID, userID)
			if err != nil {
				return err
			}
			for _, timeout := range timeouts {
				if timeout.Active(now) {
					canContribute = false
					return nil
				}
			}
			// The penalty has elapsed; dig the participant back up. They
			// still must call the resume entry point to rejoin a queue.
			p.Status = types.StatusExhumed
			p.LastUpdated = now
			canContribute = true
			log.WithFields(logrus.Fields{
				"ceremony":    ceremonyID,
				"participant": userID,
			}).Info("Expired timeout, participant exhumed")
			return tx.SaveParticipant(ceremonyID, p)
		default:
			canContribute = true
			return nil
		}
	})
	return canContribute, err
}

// ProgressToNextCircuitForContribution moves a freshly created participant
// towards the first circuit: contribution progress 0 becomes 1 and the
// status becomes READY, which the queue coordinator picks up as an
// admission request. Later circuits are entered by the post-verification
// refresher, never by the client.
func (m *Manager) ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID, userID string) error {
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", userID, ceremonyID)
		}
		if p.Status != types.StatusCreated || p.ContributionProgress != 0 {
			return api.Errorf(api.CodeFailedPrecondition,
				"participant %s cannot enter the first circuit from status %s at progress %d",
				userID, p.Status, p.ContributionProgress)
		}
		p.ContributionProgress = 1
		p.Status = types.StatusReady
		p.ContributionStep = ""
		p.TempContributionData = types.TempContributionData{}
		p.LastUpdated = mtime.NowMillis()
		return tx.SaveParticipant(ceremonyID, p)
	})
}

// ResumeContributionAfterTimeoutExpiration puts an exhumed participant back
// in line for the circuit they were evicted from. Contribution progress is
// untouched: the slot they lost is the slot they retry.
func (m *Manager) ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID, userID string) error {
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", userID, ceremonyID)
		}
		if p.Status != types.StatusExhumed {
			return api.Errorf(api.CodeFailedPrecondition,
				"participant %s has no expired timeout to resume from (status %s)", userID, p.Status)
		}
		p.Status = types.StatusReady
		p.ContributionStep = ""
		p.TempContributionData = types.TempContributionData{}
		p.LastUpdated = mtime.NowMillis()
		return tx.SaveParticipant(ceremonyID, p)
	})
}

// ProgressToNextContributionStep advances the inner sub-machine of the
// current contributor: DOWNLOADING to COMPUTING to UPLOADING to VERIFYING.
// Entering VERIFYING stamps verificationStartedAt so the timeout controller
// can budget the server side too. The VERIFYING to COMPLETED advance
// belongs to the verification worker.
func (m *Manager) ProgressToNextContributionStep(ctx context.Context, ceremonyID, userID string) error {
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", userID, ceremonyID)
		}
		if p.Status != types.StatusContributing {
			return api.Errorf(api.CodeFailedPrecondition,
				"participant %s is not contributing (status %s)", userID, p.Status)
		}
		switch p.ContributionStep {
		case types.StepDownloading, types.StepComputing, types.StepUploading:
		default:
			return api.Errorf(api.CodeFailedPrecondition,
				"contribution step %s cannot be advanced by the contributor", p.ContributionStep)
		}
		now := mtime.NowMillis()
		p.ContributionStep = p.ContributionStep.Next()
		if p.ContributionStep == types.StepVerifying {
			p.VerificationStartedAt = now
		}
		p.LastUpdated = now
		return tx.SaveParticipant(ceremonyID, p)
	})
}

// TemporaryStoreCurrentContributionMultiPartUploadID records the id of the
// multi-part upload the contributor just opened, wiping any chunks from an
// abandoned earlier attempt. A finalizing coordinator may also store one
// for the final artifacts.
func (m *Manager) TemporaryStoreCurrentContributionMultiPartUploadID(ctx context.Context, ceremonyID, userID, uploadID string) error {
	if uploadID == "" {
		return api.Errorf(api.CodeInvalidArgument, "upload id must not be empty")
	}
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := m.uploadingParticipant(tx, ceremonyID, userID)
		if err != nil {
			return err
		}
		p.TempContributionData.UploadID = uploadID
		p.TempContributionData.Chunks = nil
		p.LastUpdated = mtime.NowMillis()
		return tx.SaveParticipant(ceremonyID, p)
	})
}

// TemporaryStoreCurrentContributionUploadedChunkData appends one
// acknowledged part of the in-flight upload. A returning client resumes
// after the highest part number stored here.
func (m *Manager) TemporaryStoreCurrentContributionUploadedChunkData(ctx context.Context, ceremonyID, userID string, chunk types.ChunkData) error {
	if chunk.PartNumber < 1 || chunk.ETag == "" {
		return api.Errorf(api.CodeInvalidArgument, "chunk must carry an ETag and a positive part number")
	}
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := m.uploadingParticipant(tx, ceremonyID, userID)
		if err != nil {
			return err
		}
		if p.TempContributionData.UploadID == "" {
			return api.Errorf(api.CodeFailedPrecondition,
				"participant %s has no open multi-part upload", userID)
		}
		for _, existing := range p.TempContributionData.Chunks {
			if existing.PartNumber == chunk.PartNumber {
				return api.Errorf(api.CodeAlreadyExists,
					"part %d of the current upload is already stored", chunk.PartNumber)
			}
		}
		p.TempContributionData.Chunks = append(p.TempContributionData.Chunks, chunk)
		p.LastUpdated = mtime.NowMillis()
		return tx.SaveParticipant(ceremonyID, p)
	})
}

// PermanentlyStoreCurrentContributionTimeAndHash appends the
// contributor-computed time and digest of the candidate zkey. The matching
// contribution document id is filled in by the refresher once verification
// lands.
func (m *Manager) PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, ceremonyID, userID string, computationTime int64, hash string) error {
	if hash == "" {
		return api.Errorf(api.CodeInvalidArgument, "contribution hash must not be empty")
	}
	return m.db.RunTransaction(ctx, func(tx iface.Txn) error {
		p, err := tx.Participant(ceremonyID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", userID, ceremonyID)
		}
		if p.Status != types.StatusContributing && p.Status != types.StatusFinalizing {
			return api.Errorf(api.CodeFailedPrecondition,
				"participant %s is neither contributing nor finalizing (status %s)", userID, p.Status)
		}
		p.Contributions = append(p.Contributions, types.ContributionRef{
			ComputationTime: computationTime,
			Hash:            hash,
		})
		p.TempContributionData.ContributionComputationTime = computationTime
		p.LastUpdated = mtime.NowMillis()
		return tx.SaveParticipant(ceremonyID, p)
	})
}

// uploadingParticipant loads the participant and checks the shared guard of
// the temporary-storage operations: the caller must either hold a
// contribution slot in the UPLOADING step or be finalizing the ceremony.
func (m *Manager) uploadingParticipant(tx iface.Txn, ceremonyID, userID string) (*types.Participant, error) {
	p, err := tx.Participant(ceremonyID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", userID, ceremonyID)
	}
	if p.Status == types.StatusFinalizing {
		return p, nil
	}
	if p.Status != types.StatusContributing || p.ContributionStep != types.StepUploading {
		return nil, api.Errorf(api.CodeFailedPrecondition,
			"participant %s is not uploading a contribution (status %s, step %s)",
			userID, p.Status, p.ContributionStep)
	}
	return p, nil
}
