package verify

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/storage"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/mpc"
	mtime "github.com/zkmpc/maestro/time"
)

// Request carries one verification order from the transport layer.
type Request struct {
	CeremonyID string
	CircuitID  string
	UserID     string
	GHUsername string
	// ContributionTime is the contributor-reported computation time, ms.
	ContributionTime int64
	// Beacon is the hex beacon value; set only on the final contribution.
	Beacon string
}

// VerifyContribution stages the relevant zkeys, runs the primitive and
// persists the outcome. The reported verdict is durable by the time the
// call returns: the contribution document and the circuit counters commit
// in one batch, valid or not.
func (s *Service) VerifyContribution(ctx context.Context, req *Request) (*api.VerifyContributionResponse, error) {
	select {
	case <-s.ctx.Done():
		return nil, errors.New("verification service is stopping")
	default:
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	activeVerifications.Inc()
	defer activeVerifications.Dec()

	ceremony, err := s.cfg.Database.Ceremony(ctx, req.CeremonyID)
	if err != nil {
		return nil, err
	}
	if ceremony == nil {
		return nil, api.Errorf(api.CodeNotFound, "ceremony %s not found", req.CeremonyID)
	}
	circuit, err := s.cfg.Database.Circuit(ctx, req.CeremonyID, req.CircuitID)
	if err != nil {
		return nil, err
	}
	if circuit == nil {
		return nil, api.Errorf(api.CodeNotFound, "circuit %s not found in ceremony %s", req.CircuitID, req.CeremonyID)
	}
	p, err := s.cfg.Database.Participant(ctx, req.CeremonyID, req.UserID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", req.UserID, req.CeremonyID)
	}

	scratch, err := os.MkdirTemp(s.cfg.ScratchDir, "verify-")
	if err != nil {
		return nil, errors.Wrap(err, "could not create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.WithError(err).Error("Could not remove scratch directory")
		}
	}()

	if p.Status == types.StatusFinalizing {
		if req.UserID != ceremony.CoordinatorID {
			return nil, api.Errorf(api.CodePermissionDenied,
				"only the ceremony coordinator can submit the final contribution")
		}
		if ceremony.State != types.CeremonyClosed {
			return nil, api.Errorf(api.CodeFailedPrecondition,
				"ceremony %s must be closed before finalization", req.CeremonyID)
		}
		return s.verifyFinal(ctx, req, ceremony, circuit, scratch)
	}
	if ceremony.State != types.CeremonyOpened {
		return nil, api.Errorf(api.CodeFailedPrecondition,
			"ceremony %s is not opened for contributions", req.CeremonyID)
	}
	if !p.CurrentContributor(circuit) || p.ContributionStep != types.StepVerifying {
		return nil, api.Errorf(api.CodeFailedPrecondition,
			"participant %s does not hold the verification slot of circuit %s", req.UserID, circuit.Prefix)
	}
	return s.verifyStep(ctx, req, ceremony, circuit, p, scratch)
}

// verifyStep checks that the uploaded candidate extends the last verified
// zkey by exactly one contribution.
func (s *Service) verifyStep(ctx context.Context, req *Request, ceremony *types.Ceremony, circuit *types.Circuit, p *types.Participant, scratch string) (*api.VerifyContributionResponse, error) {
	bucket := api.BucketName(ceremony.Prefix)
	prevIndex := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions)
	candIndex := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1)

	prevLocal := filepath.Join(scratch, api.ZkeyFilename(circuit.Prefix, prevIndex))
	if err := s.fetch(ctx, bucket, api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, prevIndex), prevLocal); err != nil {
		return nil, errors.Wrap(err, "could not stage previous zkey")
	}
	candLocal := filepath.Join(scratch, api.ZkeyFilename(circuit.Prefix, candIndex))
	if err := s.fetch(ctx, bucket, api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, candIndex), candLocal); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, api.Errorf(api.CodeFailedPrecondition,
				"no uploaded zkey at index %s for circuit %s", candIndex, circuit.Prefix)
		}
		return nil, errors.Wrap(err, "could not stage candidate zkey")
	}

	start := mtime.NowMillis()
	valid, report, err := s.cfg.Engine.Verify(ctx, prevLocal, candLocal)
	if err != nil {
		return nil, errors.Wrap(err, "verification could not run")
	}
	verifyTime := mtime.NowMillis() - start
	verificationSeconds.Observe(float64(verifyTime) / 1000)

	candHash, err := hashutil.Blake2bFile(candLocal)
	if err != nil {
		return nil, err
	}
	transcriptPath := api.TranscriptStoragePath(ceremony.Prefix, circuit.Prefix, candIndex, req.GHUsername)
	if err := s.cfg.Store.Upload(ctx, bucket, transcriptPath, bytes.NewReader(report)); err != nil {
		return nil, errors.Wrap(err, "could not publish verification transcript")
	}

	contribution := &types.Contribution{
		ID:                          uuid.NewString(),
		ParticipantID:               req.UserID,
		ZkeyIndex:                   candIndex,
		ContributionComputationTime: req.ContributionTime,
		VerificationComputationTime: verifyTime,
		Valid:                       valid,
		Files: types.ContributionFiles{
			LastZkeyFilename:      api.ZkeyFilename(circuit.Prefix, candIndex),
			LastZkeyStoragePath:   api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, candIndex),
			LastZkeyBlake2bHash:   candHash,
			TranscriptFilename:    api.TranscriptFilename(circuit.Prefix, candIndex, req.GHUsername),
			TranscriptStoragePath: transcriptPath,
			TranscriptBlake2bHash: hashutil.Blake2b(report),
		},
	}
	var timings *types.CircuitTimings
	if valid {
		timings = &types.CircuitTimings{
			ContributionComputation: req.ContributionTime,
			FullContribution:        mtime.NowMillis() - p.ContributionStartedAt,
			VerifyContribution:      verifyTime,
		}
	}
	if err := s.persist(ctx, req, contribution, timings); err != nil {
		return nil, err
	}
	verificationsTotal.WithLabelValues(verdict(valid)).Inc()
	log.WithFields(logrus.Fields{
		"circuit":     circuit.Prefix,
		"zkeyIndex":   candIndex,
		"participant": req.UserID,
		"valid":       valid,
		"verifyMs":    verifyTime,
	}).Info("Verified contribution")
	return &api.VerifyContributionResponse{Valid: valid, VerificationTimeInMillis: verifyTime}, nil
}

// verifyFinal replays the whole contribution chain with the claimed beacon
// and accepts the uploaded final zkey only if the replayed seal matches it
// byte for byte. On a valid seal the worker publishes the verification key
// document and the Solidity verifier it derived itself, so the published
// artifacts provably come from the sealed chain.
func (s *Service) verifyFinal(ctx context.Context, req *Request, ceremony *types.Ceremony, circuit *types.Circuit, scratch string) (*api.VerifyContributionResponse, error) {
	beacon, err := hex.DecodeString(req.Beacon)
	if err != nil {
		return nil, api.Errorf(api.CodeInvalidArgument, "beacon must be a hex string: %v", err)
	}
	if len(beacon) < mpc.MinBeaconBytes {
		return nil, api.Errorf(api.CodeInvalidArgument,
			"beacon must carry at least %d bytes, got %d", mpc.MinBeaconBytes, len(beacon))
	}

	bucket := api.BucketName(ceremony.Prefix)
	r1csLocal := filepath.Join(scratch, circuit.Prefix+".r1cs")
	if err := s.fetch(ctx, bucket, circuit.Files.R1CSStoragePath, r1csLocal); err != nil {
		return nil, errors.Wrap(err, "could not stage constraint system")
	}
	potLocal := filepath.Join(scratch, circuit.Files.PotFilename)
	if err := s.fetch(ctx, bucket, circuit.Files.PotStoragePath, potLocal); err != nil {
		return nil, errors.Wrap(err, "could not stage powers of tau")
	}
	chain := make([]string, 0, circuit.WaitingQueue.CompletedContributions+1)
	for k := int64(0); k <= circuit.WaitingQueue.CompletedContributions; k++ {
		index := api.FormatZkeyIndex(k)
		local := filepath.Join(scratch, api.ZkeyFilename(circuit.Prefix, index))
		if err := s.fetch(ctx, bucket, api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, index), local); err != nil {
			return nil, errors.Wrapf(err, "could not stage zkey %s", index)
		}
		chain = append(chain, local)
	}
	candLocal := filepath.Join(scratch, api.ZkeyFilename(circuit.Prefix, types.FinalZkeyIndex))
	if err := s.fetch(ctx, bucket, api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, types.FinalZkeyIndex), candLocal); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, api.Errorf(api.CodeFailedPrecondition,
				"no uploaded final zkey for circuit %s", circuit.Prefix)
		}
		return nil, errors.Wrap(err, "could not stage final zkey")
	}
	candHash, err := hashutil.Blake2bFile(candLocal)
	if err != nil {
		return nil, err
	}

	out := mpc.FinalizeOutput{
		FinalZkeyPath:        filepath.Join(scratch, "replayed_final.zkey"),
		VerificationKeyPath:  filepath.Join(scratch, api.VerificationKeyFilename(circuit.Prefix)),
		SolidityVerifierPath: filepath.Join(scratch, api.VerifierFilename(circuit.Prefix)),
	}
	start := mtime.NowMillis()
	sealErr := s.cfg.Engine.Finalize(ctx, r1csLocal, potLocal, chain, beacon, out)
	verifyTime := mtime.NowMillis() - start
	verificationSeconds.Observe(float64(verifyTime) / 1000)

	valid := false
	var report bytes.Buffer
	fmt.Fprintln(&report, "groth16 phase 2 finalization verification")
	fmt.Fprintf(&report, "chain states:  %d\n", len(chain))
	fmt.Fprintf(&report, "beacon:        %s\n", req.Beacon)
	fmt.Fprintf(&report, "uploaded seal: blake2b-512 %s\n", candHash)
	if sealErr != nil {
		fmt.Fprintf(&report, "chain replay:  failed: %v\n", sealErr)
	} else {
		sealedHash, err := hashutil.Blake2bFile(out.FinalZkeyPath)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&report, "replayed seal: blake2b-512 %s\n", sealedHash)
		valid = sealedHash == candHash
	}
	fmt.Fprintf(&report, "result: %s\n", verdictUpper(valid))

	transcriptPath := api.TranscriptStoragePath(ceremony.Prefix, circuit.Prefix, types.FinalZkeyIndex, req.GHUsername)
	if err := s.cfg.Store.Upload(ctx, bucket, transcriptPath, bytes.NewReader(report.Bytes())); err != nil {
		return nil, errors.Wrap(err, "could not publish verification transcript")
	}

	files := types.ContributionFiles{
		LastZkeyFilename:      api.ZkeyFilename(circuit.Prefix, types.FinalZkeyIndex),
		LastZkeyStoragePath:   api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, types.FinalZkeyIndex),
		LastZkeyBlake2bHash:   candHash,
		TranscriptFilename:    api.TranscriptFilename(circuit.Prefix, types.FinalZkeyIndex, req.GHUsername),
		TranscriptStoragePath: transcriptPath,
		TranscriptBlake2bHash: hashutil.Blake2b(report.Bytes()),
	}
	if valid {
		vkHash, err := s.publish(ctx, bucket, out.VerificationKeyPath, api.VerificationKeyStoragePath(ceremony.Prefix, circuit.Prefix))
		if err != nil {
			return nil, err
		}
		files.VerificationKeyFilename = api.VerificationKeyFilename(circuit.Prefix)
		files.VerificationKeyStoragePath = api.VerificationKeyStoragePath(ceremony.Prefix, circuit.Prefix)
		files.VerificationKeyBlake2bHash = vkHash
		solHash, err := s.publish(ctx, bucket, out.SolidityVerifierPath, api.VerifierStoragePath(ceremony.Prefix, circuit.Prefix))
		if err != nil {
			return nil, err
		}
		files.VerifierFilename = api.VerifierFilename(circuit.Prefix)
		files.VerifierStoragePath = api.VerifierStoragePath(ceremony.Prefix, circuit.Prefix)
		files.VerifierBlake2bHash = solHash
	}

	contribution := &types.Contribution{
		ID:                          uuid.NewString(),
		ParticipantID:               req.UserID,
		ZkeyIndex:                   types.FinalZkeyIndex,
		ContributionComputationTime: req.ContributionTime,
		VerificationComputationTime: verifyTime,
		Valid:                       valid,
		Files:                       files,
		Beacon: &types.Beacon{
			Value: req.Beacon,
			Hash:  hashutil.Blake2b(beacon),
		},
	}
	if err := s.persist(ctx, req, contribution, nil); err != nil {
		return nil, err
	}
	verificationsTotal.WithLabelValues(verdict(valid)).Inc()
	log.WithFields(logrus.Fields{
		"circuit":  circuit.Prefix,
		"valid":    valid,
		"verifyMs": verifyTime,
	}).Info("Verified final contribution")
	return &api.VerifyContributionResponse{Valid: valid, VerificationTimeInMillis: verifyTime}, nil
}

// persist commits the contribution document and the circuit counters in one
// batch. The circuit is re-read inside the transaction: a contributor
// evicted mid-verification must not produce a durable verdict.
func (s *Service) persist(ctx context.Context, req *Request, contribution *types.Contribution, timings *types.CircuitTimings) error {
	return s.cfg.Database.RunTransaction(ctx, func(tx iface.Txn) error {
		circuit, err := tx.Circuit(req.CeremonyID, req.CircuitID)
		if err != nil {
			return err
		}
		if circuit == nil {
			return api.Errorf(api.CodeNotFound, "circuit %s not found in ceremony %s", req.CircuitID, req.CeremonyID)
		}
		contributions, err := tx.Contributions(req.CeremonyID, req.CircuitID)
		if err != nil {
			return err
		}
		if contribution.ZkeyIndex == types.FinalZkeyIndex {
			for _, c := range contributions {
				if c.ZkeyIndex == types.FinalZkeyIndex {
					return api.Errorf(api.CodeAlreadyExists,
						"circuit %s already carries a final contribution", circuit.Prefix)
				}
			}
		} else {
			if circuit.WaitingQueue.CurrentContributor != req.UserID {
				return api.Errorf(api.CodeFailedPrecondition,
					"contribution slot of circuit %s was reassigned during verification", circuit.Prefix)
			}
			for _, c := range contributions {
				if c.ParticipantID == req.UserID && c.ZkeyIndex == contribution.ZkeyIndex {
					return api.Errorf(api.CodeAlreadyExists,
						"contribution %s of circuit %s is already verified", contribution.ZkeyIndex, circuit.Prefix)
				}
			}
		}
		if contribution.Valid {
			circuit.WaitingQueue.CompletedContributions++
			if timings != nil {
				circuit.AvgTimings.ContributionComputation = runningAvg(circuit.AvgTimings.ContributionComputation, timings.ContributionComputation)
				circuit.AvgTimings.FullContribution = runningAvg(circuit.AvgTimings.FullContribution, timings.FullContribution)
				circuit.AvgTimings.VerifyContribution = runningAvg(circuit.AvgTimings.VerifyContribution, timings.VerifyContribution)
			}
		} else {
			circuit.WaitingQueue.FailedContributions++
		}
		now := mtime.NowMillis()
		circuit.LastUpdated = now
		contribution.LastUpdated = now
		if err := tx.SaveContribution(req.CeremonyID, req.CircuitID, contribution); err != nil {
			return err
		}
		return tx.SaveCircuit(req.CeremonyID, circuit)
	})
}

// fetch stages one object into the scratch directory.
func (s *Service) fetch(ctx context.Context, bucket, key, dest string) error {
	r, err := s.cfg.Store.Download(ctx, bucket, key)
	if err != nil {
		return errors.Wrapf(err, "download %s/%s", bucket, key)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.WithError(err).Error("Could not close object reader")
		}
	}()
	f, err := os.Create(dest) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Could not close staged artifact")
		}
		return err
	}
	return f.Close()
}

// publish uploads a scratch artifact to its canonical path and returns its
// BLAKE2b digest.
func (s *Service) publish(ctx context.Context, bucket, local, key string) (string, error) {
	f, err := os.Open(local) // #nosec G304
	if err != nil {
		return "", err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Could not close scratch artifact")
		}
	}()
	if err := s.cfg.Store.Upload(ctx, bucket, key, f); err != nil {
		return "", errors.Wrapf(err, "upload %s/%s", bucket, key)
	}
	return hashutil.Blake2bFile(local)
}

// runningAvg folds one sample into a running average the same way every
// earlier sample was folded in.
func runningAvg(old, sample int64) int64 {
	if old > 0 {
		return (old + sample) / 2
	}
	return sample
}

func verdict(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func verdictUpper(valid bool) string {
	if valid {
		return "VALID"
	}
	return "INVALID"
}
