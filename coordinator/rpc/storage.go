package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/coordinator/auth"
	"github.com/zkmpc/maestro/coordinator/types"
)

// objectAccess is the storage authorization mode.
type objectAccess int

const (
	readAccess objectAccess = iota
	writeAccess
)

// authorizeObjectAccess decides whether the caller may touch the object.
// Coordinators pass unconditionally: they stage setup artifacts before any
// ceremony document exists and sealed artifacts after the queue is done.
// A contributor must hold the contribution slot, and may only write the
// next zkey of its current circuit or read the circuit inputs and the tip
// of the zkey chain.
func (s *Service) authorizeObjectAccess(ctx context.Context, claims *auth.Claims, ceremonyID, bucket, key string, access objectAccess) error {
	if claims.Coordinator {
		return nil
	}
	if ceremonyID == "" {
		return api.Errorf(api.CodePermissionDenied, "ceremony id is required for contributor storage access")
	}
	ceremony, err := s.cfg.Database.Ceremony(ctx, ceremonyID)
	if err != nil {
		return err
	}
	if ceremony == nil {
		return api.Errorf(api.CodeNotFound, "ceremony %s not found", ceremonyID)
	}
	if api.BucketName(ceremony.Prefix) != bucket {
		return api.Errorf(api.CodePermissionDenied, "bucket %s does not belong to ceremony %s", bucket, ceremonyID)
	}
	participant, err := s.cfg.Database.Participant(ctx, ceremonyID, claims.Subject)
	if err != nil {
		return err
	}
	if participant == nil || participant.Status != types.StatusContributing {
		return api.Errorf(api.CodePermissionDenied, "participant %s is not contributing", claims.Subject)
	}
	circuits, err := s.cfg.Database.Circuits(ctx, ceremonyID)
	if err != nil {
		return err
	}
	circuit := circuitAtPosition(circuits, participant.ContributionProgress)
	if circuit == nil || circuit.WaitingQueue.CurrentContributor != claims.Subject {
		return api.Errorf(api.CodePermissionDenied, "participant %s does not hold the contribution slot", claims.Subject)
	}

	if access == writeAccess {
		next := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1)
		if key != api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, next) {
			return api.Errorf(api.CodePermissionDenied, "object %s is not the expected contribution output", key)
		}
		return nil
	}

	tip := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions)
	switch key {
	case circuit.Files.PotStoragePath,
		circuit.Files.R1CSStoragePath,
		circuit.Files.WasmStoragePath,
		circuit.Files.InitialZkeyStoragePath,
		api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, tip):
		return nil
	}
	return api.Errorf(api.CodePermissionDenied, "object %s is not readable by the current contributor", key)
}

func circuitAtPosition(circuits []*types.Circuit, position int64) *types.Circuit {
	for _, circuit := range circuits {
		if circuit.SequencePosition == position {
			return circuit
		}
	}
	return nil
}

func (s *Service) handleStartMultiPartUpload(w http.ResponseWriter, r *http.Request) {
	var req api.StartMultiPartUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claims := claimsFrom(r.Context())
	if err := s.authorizeObjectAccess(r.Context(), claims, req.CeremonyID, req.BucketName, req.ObjectKey, writeAccess); err != nil {
		writeError(w, err)
		return
	}
	uploadID, err := s.cfg.Store.StartMultiPartUpload(r.Context(), req.BucketName, req.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	// Contributors resume interrupted uploads from the participant
	// document, so the open upload id is persisted before the client
	// learns it. Coordinator setup and finalization uploads have no
	// matching participant slot and skip the bookkeeping.
	if req.CeremonyID != "" {
		err := s.cfg.Participants.TemporaryStoreCurrentContributionMultiPartUploadID(r.Context(), req.CeremonyID, claims.Subject, uploadID)
		switch {
		case err == nil:
		case claims.Coordinator:
			log.WithError(err).Debug("Skipping upload id bookkeeping for coordinator upload")
		default:
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, &api.StartMultiPartUploadResponse{UploadID: uploadID})
}

func (s *Service) handlePreSignedUploadParts(w http.ResponseWriter, r *http.Request) {
	var req api.PreSignedUrlsPartsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.NumberOfParts < 1 {
		writeError(w, api.Errorf(api.CodeInvalidArgument, "at least one part is required"))
		return
	}
	claims := claimsFrom(r.Context())
	if err := s.authorizeObjectAccess(r.Context(), claims, req.CeremonyID, req.BucketName, req.ObjectKey, writeAccess); err != nil {
		writeError(w, err)
		return
	}
	urls, err := s.cfg.Store.PreSignedUploadParts(r.Context(), req.BucketName, req.ObjectKey, req.UploadID, req.NumberOfParts, presignExpiry(req.ExpirationInSeconds))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.PreSignedUrlsPartsResponse{URLs: urls})
}

func (s *Service) handleCompleteMultiPartUpload(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteMultiPartUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Parts) == 0 {
		writeError(w, api.Errorf(api.CodeInvalidArgument, "no uploaded parts to complete"))
		return
	}
	claims := claimsFrom(r.Context())
	if err := s.authorizeObjectAccess(r.Context(), claims, req.CeremonyID, req.BucketName, req.ObjectKey, writeAccess); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.CompleteMultiPartUpload(r.Context(), req.BucketName, req.ObjectKey, req.UploadID, req.Parts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.CompleteMultiPartUploadResponse{
		Location: fmt.Sprintf("%s/%s", req.BucketName, req.ObjectKey),
	})
}

func (s *Service) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	var req api.DownloadURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claims := claimsFrom(r.Context())
	if err := s.authorizeObjectAccess(r.Context(), claims, req.CeremonyID, req.BucketName, req.ObjectKey, readAccess); err != nil {
		writeError(w, err)
		return
	}
	url, err := s.cfg.Store.DownloadURL(r.Context(), req.BucketName, req.ObjectKey, presignExpiry(0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.DownloadURLResponse{URL: url})
}

// presignExpiry clamps the requested lifetime to the configured maximum.
// Zero means the maximum.
func presignExpiry(requestedSeconds int64) time.Duration {
	maxSeconds := params.CeremonyConfig().PresignedURLExpirationInSeconds
	if requestedSeconds <= 0 || requestedSeconds > maxSeconds {
		requestedSeconds = maxSeconds
	}
	return time.Duration(requestedSeconds) * time.Second
}
