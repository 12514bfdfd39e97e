package rpc

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/coordinator/verify"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Failed to write response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := api.AsError(err)
	if apiErr.Code == api.CodeInternal {
		log.WithError(err).Error("Callable failed")
	}
	writeJSON(w, apiErr.Code.HTTPStatus(), apiErr)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return api.Errorf(api.CodeInvalidArgument, "malformed request body: %v", err)
	}
	return nil
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.GithubToken == "" {
		writeError(w, api.Errorf(api.CodeInvalidArgument, "provider token is required"))
		return
	}
	token, claims, err := s.cfg.Authenticator.Login(r.Context(), req.GithubToken)
	if err != nil {
		writeError(w, api.Errorf(api.CodeUnauthenticated, "login failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, &api.LoginResponse{
		Token:       token,
		UserID:      claims.Subject,
		Handle:      claims.Handle,
		Coordinator: claims.Coordinator,
	})
}

func (s *Service) handleListCeremonies(w http.ResponseWriter, r *http.Request) {
	var states []types.CeremonyState
	if v := r.URL.Query().Get("state"); v != "" {
		states = append(states, types.CeremonyState(strings.ToUpper(v)))
	}
	ceremonies, err := s.cfg.Database.Ceremonies(r.Context(), states...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.ListCeremoniesResponse{Ceremonies: ceremonies})
}

func (s *Service) handleGetCeremony(w http.ResponseWriter, r *http.Request) {
	ceremonyID := mux.Vars(r)["id"]
	ceremony, err := s.cfg.Database.Ceremony(r.Context(), ceremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ceremony == nil {
		writeError(w, api.Errorf(api.CodeNotFound, "ceremony %s not found", ceremonyID))
		return
	}
	writeJSON(w, http.StatusOK, ceremony)
}

func (s *Service) handleSetupCeremony(w http.ResponseWriter, r *http.Request) {
	var req api.SetupCeremonyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ceremonyID, err := s.cfg.Ceremonies.SetupCeremony(r.Context(), &req, claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.SetupCeremonyResponse{CeremonyID: ceremonyID})
}

func (s *Service) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := s.cfg.Ceremonies.CreateBucket(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.CreateBucketResponse{BucketName: bucket})
}

func (s *Service) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	circuits, err := s.cfg.Database.Circuits(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.ListCircuitsResponse{Circuits: circuits})
}

func (s *Service) handleJoin(w http.ResponseWriter, r *http.Request) {
	canContribute, err := s.cfg.Participants.CheckParticipantForCeremony(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.JoinResponse{CanContribute: canContribute})
}

func (s *Service) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	ceremonyID := mux.Vars(r)["id"]
	userID := claimsFrom(r.Context()).Subject
	participant, err := s.cfg.Database.Participant(r.Context(), ceremonyID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if participant == nil {
		writeError(w, api.Errorf(api.CodeNotFound, "participant %s not found in ceremony %s", userID, ceremonyID))
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (s *Service) handleNextCircuit(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Participants.ProgressToNextCircuitForContribution(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleNextStep(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Participants.ProgressToNextContributionStep(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Participants.ResumeContributionAfterTimeoutExpiration(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleUploadID(w http.ResponseWriter, r *http.Request) {
	var req api.UploadIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.cfg.Participants.TemporaryStoreCurrentContributionMultiPartUploadID(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject, req.UploadID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleChunk(w http.ResponseWriter, r *http.Request) {
	var req api.ChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.cfg.Participants.TemporaryStoreCurrentContributionUploadedChunkData(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject, req.Chunk)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleContributionMeta(w http.ResponseWriter, r *http.Request) {
	var req api.ContributionMetaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.cfg.Participants.PermanentlyStoreCurrentContributionTimeAndHash(
		r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject, req.ContributionComputationTime, req.ContributionHash)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleVerifyContribution(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyContributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	claims := claimsFrom(r.Context())
	username := req.GHUsername
	if username == "" {
		username = claims.Handle
	}
	resp, err := s.cfg.Verifier.VerifyContribution(r.Context(), &verify.Request{
		CeremonyID:       vars["id"],
		CircuitID:        vars["circuitId"],
		UserID:           claims.Subject,
		GHUsername:       username,
		ContributionTime: req.ContributionTimeInMillis,
		Beacon:           req.Beacon,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleFinalizeCircuit(w http.ResponseWriter, r *http.Request) {
	var req api.FinalizeCircuitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	err := s.cfg.Ceremonies.FinalizeCircuit(r.Context(), vars["id"], vars["circuitId"], claimsFrom(r.Context()).Subject, req.Beacon)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handlePrepareFinalization(w http.ResponseWriter, r *http.Request) {
	eligible, err := s.cfg.Ceremonies.CheckAndPrepareCoordinatorForFinalization(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.PrepareFinalizationResponse{Eligible: eligible})
}

func (s *Service) handleFinalizeCeremony(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Ceremonies.FinalizeCeremony(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
