package rpc

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/auth"
	"github.com/zkmpc/maestro/coordinator/ceremony"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	dbtest "github.com/zkmpc/maestro/coordinator/db/testing"
	"github.com/zkmpc/maestro/coordinator/participant"
	storetest "github.com/zkmpc/maestro/coordinator/storage/testing"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/coordinator/verify"
	mpctest "github.com/zkmpc/maestro/mpc/testing"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
	mtime "github.com/zkmpc/maestro/time"
)

const (
	aliceToken       = "provider-token-alice"
	bobToken         = "provider-token-bob"
	coordinatorToken = "provider-token-coordinator"
)

// tokenVerifier is an identity provider double keyed by provider token.
type tokenVerifier struct {
	identities map[string]*auth.Identity
}

func (v *tokenVerifier) VerifyIdentity(_ context.Context, token string) (*auth.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return nil, errors.New("unknown provider token")
	}
	return identity, nil
}

type fixture struct {
	service *Service
	db      iface.Database
	store   *storetest.MockStore
	engine  *mpctest.MockEngine
}

func setupService(t *testing.T, rps float64) *fixture {
	ctx := context.Background()
	db := dbtest.SetupDB(t)
	store := storetest.NewMockStore()
	engine := mpctest.NewMockEngine()

	authenticator, err := auth.New(ctx, &auth.Config{
		SecretPath: filepath.Join(t.TempDir(), "session-secret"),
		Verifier: &tokenVerifier{identities: map[string]*auth.Identity{
			aliceToken:       {UserID: "github|alice", Handle: "alice"},
			bobToken:         {UserID: "github|bob", Handle: "bob"},
			coordinatorToken: {UserID: "github|coordinator", Handle: "coordinator", Coordinator: true},
		}},
	})
	require.NoError(t, err)

	verifier := verify.New(ctx, &verify.Config{
		Database:   db,
		Store:      store,
		Engine:     engine,
		ScratchDir: t.TempDir(),
		Workers:    1,
	})
	t.Cleanup(func() {
		require.NoError(t, verifier.Stop())
	})

	service := New(ctx, &Config{
		RequestsPerSecond: rps,
		Authenticator:     authenticator,
		Database:          db,
		Store:             store,
		Participants:      participant.NewManager(db),
		Ceremonies:        ceremony.NewManager(db, store),
		Verifier:          verifier,
	})
	t.Cleanup(func() {
		require.NoError(t, service.Stop())
	})

	return &fixture{service: service, db: db, store: store, engine: engine}
}

func (f *fixture) do(t *testing.T, method, path, session string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, providerToken string) *api.LoginResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", &api.LoginRequest{GithubToken: providerToken})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	resp := &api.LoginResponse{}
	decodeBody(t, rec, resp)
	return resp
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func requireErrorCode(t *testing.T, code api.Code, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, code.HTTPStatus(), rec.Code, "body: %s", rec.Body.String())
	apiErr := &api.Error{}
	decodeBody(t, rec, apiErr)
	require.Equal(t, code, apiErr.Code)
}

// seedOpenedCeremony persists an opened one-circuit ceremony directly in
// the record store.
func seedOpenedCeremony(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	now := mtime.NowMillis()
	require.NoError(t, f.db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-1", Prefix: "example", State: types.CeremonyOpened,
		StartDate: now - 60_000, EndDate: now + 3_600_000,
		CoordinatorID:    "github|coordinator",
		Type:             types.CeremonyPhase2,
		TimeoutMechanism: types.TimeoutDynamic,
	}))
	require.NoError(t, f.db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		Files: types.CircuitFiles{
			R1CSStoragePath:        api.R1CSStoragePath("example", "mul2"),
			WasmStoragePath:        api.WasmStoragePath("example", "mul2"),
			PotFilename:            "pot6.ptau",
			PotStoragePath:         api.PotStoragePath("example", "pot6.ptau"),
			InitialZkeyStoragePath: api.ZkeyStoragePath("example", "mul2", api.FormatZkeyIndex(0)),
		},
	}))
}

func TestService_Login(t *testing.T) {
	f := setupService(t, 0)

	resp := f.login(t, coordinatorToken)
	assert.Equal(t, "github|coordinator", resp.UserID)
	assert.Equal(t, "coordinator", resp.Handle)
	assert.Equal(t, true, resp.Coordinator)
	assert.NotEqual(t, "", resp.Token)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", &api.LoginRequest{GithubToken: "bogus"})
	requireErrorCode(t, api.CodeUnauthenticated, rec)

	rec = f.do(t, http.MethodPost, "/v1/auth/login", "", &api.LoginRequest{})
	requireErrorCode(t, api.CodeInvalidArgument, rec)
}

func TestService_SessionRequired(t *testing.T) {
	f := setupService(t, 0)

	rec := f.do(t, http.MethodGet, "/v1/ceremonies", "", nil)
	requireErrorCode(t, api.CodeUnauthenticated, rec)

	rec = f.do(t, http.MethodGet, "/v1/ceremonies", "not-a-session-token", nil)
	requireErrorCode(t, api.CodeUnauthenticated, rec)
}

func TestService_CoordinatorRequired(t *testing.T) {
	f := setupService(t, 0)
	alice := f.login(t, aliceToken)

	for _, path := range []string{
		"/v1/ceremonies",
		"/v1/ceremonies/ceremony-1/bucket",
		"/v1/ceremonies/ceremony-1/prepare-finalization",
		"/v1/ceremonies/ceremony-1/finalize",
		"/v1/ceremonies/ceremony-1/circuits/circuit-1/finalize",
	} {
		rec := f.do(t, http.MethodPost, path, alice.Token, &struct{}{})
		requireErrorCode(t, api.CodePermissionDenied, rec)
	}
}

func TestService_SetupAndBrowse(t *testing.T) {
	f := setupService(t, 0)
	coord := f.login(t, coordinatorToken)
	alice := f.login(t, aliceToken)
	now := mtime.NowMillis()

	rec := f.do(t, http.MethodPost, "/v1/ceremonies", coord.Token, &api.SetupCeremonyRequest{
		Ceremony: types.Ceremony{
			Prefix:    "example",
			Title:     "Example ceremony",
			StartDate: now + 60_000,
			EndDate:   now + 3_600_000,
		},
		Circuits: []types.Circuit{
			{Prefix: "mul2", SequencePosition: 1},
			{Prefix: "mul3", SequencePosition: 2},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	created := &api.SetupCeremonyResponse{}
	decodeBody(t, rec, created)
	require.NotEqual(t, "", created.CeremonyID)

	rec = f.do(t, http.MethodPost, "/v1/ceremonies/"+created.CeremonyID+"/bucket", coord.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	bucket := &api.CreateBucketResponse{}
	decodeBody(t, rec, bucket)
	assert.Equal(t, api.BucketName("example"), bucket.BucketName)

	rec = f.do(t, http.MethodGet, "/v1/ceremonies?state=scheduled", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := &api.ListCeremoniesResponse{}
	decodeBody(t, rec, list)
	require.Equal(t, 1, len(list.Ceremonies))
	assert.Equal(t, created.CeremonyID, list.Ceremonies[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/ceremonies/"+created.CeremonyID, alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := &types.Ceremony{}
	decodeBody(t, rec, fetched)
	assert.Equal(t, "example", fetched.Prefix)
	assert.Equal(t, types.CeremonyScheduled, fetched.State)

	rec = f.do(t, http.MethodGet, "/v1/ceremonies/"+created.CeremonyID+"/circuits", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	circuits := &api.ListCircuitsResponse{}
	decodeBody(t, rec, circuits)
	require.Equal(t, 2, len(circuits.Circuits))
	assert.Equal(t, "mul2", circuits.Circuits[0].Prefix)

	rec = f.do(t, http.MethodGet, "/v1/ceremonies/nope", alice.Token, nil)
	requireErrorCode(t, api.CodeNotFound, rec)

	// Setup rejections surface as structured errors.
	rec = f.do(t, http.MethodPost, "/v1/ceremonies", coord.Token, &api.SetupCeremonyRequest{
		Ceremony: types.Ceremony{Prefix: "example", StartDate: now, EndDate: now + 1},
		Circuits: []types.Circuit{{Prefix: "mul2", SequencePosition: 1}},
	})
	requireErrorCode(t, api.CodeFailedPrecondition, rec)
}

func TestService_JoinAndParticipantCalls(t *testing.T) {
	f := setupService(t, 0)
	seedOpenedCeremony(t, f)
	alice := f.login(t, aliceToken)

	rec := f.do(t, http.MethodGet, "/v1/ceremonies/ceremony-1/participants/me", alice.Token, nil)
	requireErrorCode(t, api.CodeNotFound, rec)

	rec = f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/join", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	join := &api.JoinResponse{}
	decodeBody(t, rec, join)
	assert.Equal(t, true, join.CanContribute)

	rec = f.do(t, http.MethodGet, "/v1/ceremonies/ceremony-1/participants/me", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := &types.Participant{}
	decodeBody(t, rec, me)
	assert.Equal(t, types.StatusCreated, me.Status)
	assert.Equal(t, int64(0), me.ContributionProgress)

	rec = f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/participants/me/next-circuit", alice.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, "body: %s", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/ceremonies/ceremony-1/participants/me", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me = &types.Participant{}
	decodeBody(t, rec, me)
	assert.Equal(t, types.StatusReady, me.Status)
	assert.Equal(t, int64(1), me.ContributionProgress)

	// State guards map to 412.
	rec = f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/participants/me/next-circuit", alice.Token, nil)
	requireErrorCode(t, api.CodeFailedPrecondition, rec)
	rec = f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/participants/me/next-step", alice.Token, nil)
	requireErrorCode(t, api.CodeFailedPrecondition, rec)
	rec = f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/participants/me/resume", alice.Token, nil)
	requireErrorCode(t, api.CodeFailedPrecondition, rec)

	rec = f.do(t, http.MethodPost, "/v1/ceremonies/nope/join", alice.Token, nil)
	requireErrorCode(t, api.CodeNotFound, rec)
}

func TestService_VerifyContribution(t *testing.T) {
	f := setupService(t, 0)
	seedOpenedCeremony(t, f)
	ctx := context.Background()
	bucket := api.BucketName("example")

	require.NoError(t, f.db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		Files: types.CircuitFiles{
			R1CSStoragePath: api.R1CSStoragePath("example", "mul2"),
			PotFilename:     "pot6.ptau",
			PotStoragePath:  api.PotStoragePath("example", "pot6.ptau"),
		},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, f.db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepVerifying,
		ContributionStartedAt: mtime.NowMillis() - 5_000,
	}))

	genesis := []byte("zkey 0 genesis")
	require.NoError(t, f.store.Upload(ctx, bucket,
		api.ZkeyStoragePath("example", "mul2", api.FormatZkeyIndex(0)), bytes.NewReader(genesis)))
	candidate := contributeLocally(t, f, genesis)
	require.NoError(t, f.store.Upload(ctx, bucket,
		api.ZkeyStoragePath("example", "mul2", api.FormatZkeyIndex(1)), bytes.NewReader(candidate)))

	alice := f.login(t, aliceToken)
	rec := f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/circuits/circuit-1/verify", alice.Token,
		&api.VerifyContributionRequest{ContributionTimeInMillis: 9_000})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	resp := &api.VerifyContributionResponse{}
	decodeBody(t, rec, resp)
	assert.Equal(t, true, resp.Valid)

	// The transcript is named after the session handle when the request
	// does not carry one.
	contributions, err := f.db.Contributions(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	require.Equal(t, 1, len(contributions))
	assert.Equal(t, true, strings.Contains(contributions[0].Files.TranscriptStoragePath, "alice"))

	// A caller without the slot trips the head guard.
	bob := f.login(t, bobToken)
	rec = f.do(t, http.MethodPost, "/v1/ceremonies/ceremony-1/circuits/circuit-1/verify", bob.Token,
		&api.VerifyContributionRequest{ContributionTimeInMillis: 1_000})
	requireErrorCode(t, api.CodeFailedPrecondition, rec)
}

// contributeLocally extends prev by one mock contribution and returns the
// produced state bytes.
func contributeLocally(t *testing.T, f *fixture, prev []byte) []byte {
	t.Helper()
	dir := t.TempDir()
	prevPath := filepath.Join(dir, "prev.zkey")
	nextPath := filepath.Join(dir, "next.zkey")
	require.NoError(t, os.WriteFile(prevPath, prev, 0o600))
	require.NoError(t, f.engine.Contribute(context.Background(), prevPath, nextPath))
	next, err := os.ReadFile(nextPath)
	require.NoError(t, err)
	return next
}

func TestService_RateLimit(t *testing.T) {
	// One request worth of capacity refilling every five seconds: the
	// second immediate call must bounce.
	f := setupService(t, 0.2)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", &api.LoginRequest{GithubToken: aliceToken})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/auth/login", "", &api.LoginRequest{GithubToken: aliceToken})
	requireErrorCode(t, api.CodeUnavailable, rec)
}

func TestService_EventStream(t *testing.T) {
	f := setupService(t, 0)
	seedOpenedCeremony(t, f)
	alice := f.login(t, aliceToken)

	server := httptest.NewServer(f.service.Router())
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/ceremonies/ceremony-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Keep writing until the stream has provably subscribed and delivered.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
			}
			p := &types.Participant{UserID: "github|alice", Status: types.StatusWaiting}
			if err := f.db.SaveParticipant(context.Background(), "ceremony-1", p); err != nil {
				return
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventName = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.Equal(t, api.EventParticipant, eventName)
	require.Equal(t, true, strings.Contains(data, "github|alice"), "data: %s", data)
}
