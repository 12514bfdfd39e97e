package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/coordinator/types"
)

// Publisher posts a participant's attestation somewhere public and returns
// its URL.
type Publisher interface {
	Publish(ctx context.Context, filename, description, content string) (string, error)
}

// BuildAttestation renders the public transcript of one participant's
// contributions: one block per circuit with the BLAKE2b hash of the zkey
// they produced. The hashes let anyone cross-check the participant's claim
// against the published contribution documents.
func BuildAttestation(ceremony *types.Ceremony, circuits []*types.Circuit, p *types.Participant, handle string) string {
	ordered := make([]*types.Circuit, len(circuits))
	copy(ordered, circuits)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SequencePosition < ordered[j].SequencePosition })

	var b bytes.Buffer
	fmt.Fprintf(&b, "Hey, I'm %s and I have contributed to the %s trusted setup ceremony.\n", handle, ceremony.Title)
	fmt.Fprintf(&b, "The following are my contribution hashes:\n")
	for _, circuit := range ordered {
		fmt.Fprintf(&b, "\nCircuit %d of %d (%s)\n", circuit.SequencePosition, len(ordered), circuit.Name)
		ref := contributionRefAt(p, circuit.SequencePosition)
		if ref == nil || ref.Hash == "" {
			fmt.Fprintf(&b, "Contribution hash: not recorded\n")
			continue
		}
		fmt.Fprintf(&b, "Contribution hash: %s\n", ref.Hash)
		if ref.ComputationTime > 0 {
			fmt.Fprintf(&b, "Computed in %s\n", (time.Duration(ref.ComputationTime) * time.Millisecond).Round(time.Second))
		}
	}
	return b.String()
}

// contributionRefAt returns the participant's contribution reference for the
// circuit at the given sequence position. References append in circuit
// order, one per circuit.
func contributionRefAt(p *types.Participant, position int64) *types.ContributionRef {
	idx := int(position) - 1
	if idx < 0 || idx >= len(p.Contributions) {
		return nil
	}
	return &p.Contributions[idx]
}

// GistPublisher posts attestations as public GitHub gists using the gist
// scope of the device-flow token.
type GistPublisher struct {
	Token string
	// BaseURL overrides the GitHub API root, for tests. Empty means the
	// public endpoint.
	BaseURL string
	// HTTP overrides the transport, for tests.
	HTTP *http.Client
}

type gistFile struct {
	Content string `json:"content"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	HTMLURL string `json:"html_url"`
}

// Publish creates a public gist holding the attestation and returns its
// browser URL.
func (g *GistPublisher) Publish(ctx context.Context, filename, description, content string) (string, error) {
	base := g.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	httpClient := g.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	body, err := json.Marshal(&gistRequest{
		Description: description,
		Public:      true,
		Files:       map[string]gistFile{filename: {Content: content}},
	})
	if err != nil {
		return "", errors.Wrap(err, "could not encode gist")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/gists", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "token "+g.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close gist response body")
		}
	}()
	if resp.StatusCode != http.StatusCreated {
		return "", errors.Errorf("gist creation answered status %d", resp.StatusCode)
	}
	created := &gistResponse{}
	if err := json.NewDecoder(resp.Body).Decode(created); err != nil {
		return "", errors.Wrap(err, "could not decode gist response")
	}
	return created.HTMLURL, nil
}
