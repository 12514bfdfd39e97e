// Package client implements the contributor and coordinator side of the
// ceremony protocol: the REST surface of the coordinator API, resumable
// artifact transfer through pre-signed URLs, the contribution state-machine
// loop and the finalization pipeline. The cmd/phase2 binary is a thin CLI
// over this package.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
)

var log = logrus.WithField("prefix", "client")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// requestTimeout bounds a single API call. Verification of a large circuit
// runs for minutes on the coordinator before the call returns.
const requestTimeout = 30 * time.Minute

// Client speaks the coordinator's JSON API on behalf of one session.
type Client struct {
	baseURL string
	http    *http.Client
	session string
}

// New returns a client against the coordinator at baseURL. The session
// token may be empty until Login.
func New(baseURL, session string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		session: session,
	}
}

// SetSession replaces the bearer token sent on authenticated calls.
func (c *Client) SetSession(token string) {
	c.session = token
}

// do runs one JSON call. Error replies decode into the structured api.Error
// so callers can switch on the code.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "could not encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &api.Error{}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			return api.Errorf(api.CodeInternal, "call %s failed with status %d", path, resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "could not decode %s response", path)
}

// Login exchanges an identity-provider access token for a coordinator
// session.
func (c *Client) Login(ctx context.Context, providerToken string) (*api.LoginResponse, error) {
	resp := &api.LoginResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", &api.LoginRequest{GithubToken: providerToken}, resp); err != nil {
		return nil, err
	}
	c.session = resp.Token
	return resp, nil
}

// Ceremonies lists ceremonies, optionally filtered by state.
func (c *Client) Ceremonies(ctx context.Context, state string) ([]*types.Ceremony, error) {
	path := "/v1/ceremonies"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	resp := &api.ListCeremoniesResponse{}
	if err := c.do(ctx, http.MethodGet, path, nil, resp); err != nil {
		return nil, err
	}
	return resp.Ceremonies, nil
}

// Ceremony fetches one ceremony document.
func (c *Client) Ceremony(ctx context.Context, ceremonyID string) (*types.Ceremony, error) {
	ceremony := &types.Ceremony{}
	if err := c.do(ctx, http.MethodGet, "/v1/ceremonies/"+url.PathEscape(ceremonyID), nil, ceremony); err != nil {
		return nil, err
	}
	return ceremony, nil
}

// Circuits fetches the circuits of one ceremony in sequence order.
func (c *Client) Circuits(ctx context.Context, ceremonyID string) ([]*types.Circuit, error) {
	resp := &api.ListCircuitsResponse{}
	if err := c.do(ctx, http.MethodGet, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/circuits", nil, resp); err != nil {
		return nil, err
	}
	return resp.Circuits, nil
}

// SetupCeremony registers a new ceremony with its circuits. Coordinator
// sessions only.
func (c *Client) SetupCeremony(ctx context.Context, req *api.SetupCeremonyRequest) (string, error) {
	resp := &api.SetupCeremonyResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/ceremonies", req, resp); err != nil {
		return "", err
	}
	return resp.CeremonyID, nil
}

// CreateBucket provisions the ceremony's artifact bucket. Coordinator
// sessions only.
func (c *Client) CreateBucket(ctx context.Context, ceremonyID string) (string, error) {
	resp := &api.CreateBucketResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/bucket", nil, resp); err != nil {
		return "", err
	}
	return resp.BucketName, nil
}

// Join registers the caller with the ceremony and reports whether they may
// proceed towards a contribution right now.
func (c *Client) Join(ctx context.Context, ceremonyID string) (bool, error) {
	resp := &api.JoinResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/join", nil, resp); err != nil {
		return false, err
	}
	return resp.CanContribute, nil
}

// Self fetches the caller's participant document.
func (c *Client) Self(ctx context.Context, ceremonyID string) (*types.Participant, error) {
	p := &types.Participant{}
	if err := c.do(ctx, http.MethodGet, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me", nil, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProgressToNextCircuit asks for admission into the first circuit's queue.
func (c *Client) ProgressToNextCircuit(ctx context.Context, ceremonyID string) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me/next-circuit", nil, nil)
}

// ProgressToNextStep advances the contribution sub-step while holding the
// slot.
func (c *Client) ProgressToNextStep(ctx context.Context, ceremonyID string) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me/next-step", nil, nil)
}

// Resume re-enters the ceremony after an expired timeout penalty.
func (c *Client) Resume(ctx context.Context, ceremonyID string) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me/resume", nil, nil)
}

// StoreUploadID persists the in-flight multi-part upload id on the
// participant document.
func (c *Client) StoreUploadID(ctx context.Context, ceremonyID, uploadID string) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me/upload-id",
		&api.UploadIDRequest{UploadID: uploadID}, nil)
}

// StoreChunk persists one acknowledged upload part on the participant
// document.
func (c *Client) StoreChunk(ctx context.Context, ceremonyID string, chunk types.ChunkData) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me/chunk",
		&api.ChunkRequest{Chunk: chunk}, nil)
}

// StoreContributionMeta persists the computation time and the BLAKE2b hash
// of the candidate zkey ahead of verification.
func (c *Client) StoreContributionMeta(ctx context.Context, ceremonyID string, computationTime int64, hash string) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/participants/me/contribution-meta",
		&api.ContributionMetaRequest{ContributionComputationTime: computationTime, ContributionHash: hash}, nil)
}

// VerifyContribution asks the coordinator to verify the uploaded candidate
// zkey. The call blocks until the verdict is durable.
func (c *Client) VerifyContribution(ctx context.Context, ceremonyID, circuitID string, req *api.VerifyContributionRequest) (*api.VerifyContributionResponse, error) {
	resp := &api.VerifyContributionResponse{}
	path := "/v1/ceremonies/" + url.PathEscape(ceremonyID) + "/circuits/" + url.PathEscape(circuitID) + "/verify"
	if err := c.do(ctx, http.MethodPost, path, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PrepareFinalization reports whether the coordinator may start sealing the
// circuits, entering FINALIZING on first success.
func (c *Client) PrepareFinalization(ctx context.Context, ceremonyID string) (bool, error) {
	resp := &api.PrepareFinalizationResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/prepare-finalization", nil, resp); err != nil {
		return false, err
	}
	return resp.Eligible, nil
}

// FinalizeCircuit commits one circuit's seal under the given beacon.
func (c *Client) FinalizeCircuit(ctx context.Context, ceremonyID, circuitID, beacon string) error {
	path := "/v1/ceremonies/" + url.PathEscape(ceremonyID) + "/circuits/" + url.PathEscape(circuitID) + "/finalize"
	return c.do(ctx, http.MethodPost, path, &api.FinalizeCircuitRequest{Beacon: beacon}, nil)
}

// FinalizeCeremony flips the ceremony to FINALIZED once every circuit is
// sealed.
func (c *Client) FinalizeCeremony(ctx context.Context, ceremonyID string) error {
	return c.do(ctx, http.MethodPost, "/v1/ceremonies/"+url.PathEscape(ceremonyID)+"/finalize", nil, nil)
}

// StartMultiPartUpload opens a resumable upload and returns its id.
func (c *Client) StartMultiPartUpload(ctx context.Context, req *api.StartMultiPartUploadRequest) (string, error) {
	resp := &api.StartMultiPartUploadResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/storage/multipart/start", req, resp); err != nil {
		return "", err
	}
	return resp.UploadID, nil
}

// PreSignedUploadParts signs PUT URLs for a contiguous range of parts.
func (c *Client) PreSignedUploadParts(ctx context.Context, req *api.PreSignedUrlsPartsRequest) ([]string, error) {
	resp := &api.PreSignedUrlsPartsResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/storage/multipart/urls", req, resp); err != nil {
		return nil, err
	}
	return resp.URLs, nil
}

// CompleteMultiPartUpload closes a resumable upload from its acknowledged
// parts.
func (c *Client) CompleteMultiPartUpload(ctx context.Context, req *api.CompleteMultiPartUploadRequest) (string, error) {
	resp := &api.CompleteMultiPartUploadResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/storage/multipart/complete", req, resp); err != nil {
		return "", err
	}
	return resp.Location, nil
}

// DownloadURL signs a GET URL for one ceremony artifact.
func (c *Client) DownloadURL(ctx context.Context, req *api.DownloadURLRequest) (string, error) {
	resp := &api.DownloadURLResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/storage/download-url", req, resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}
