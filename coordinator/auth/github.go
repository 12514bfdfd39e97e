package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/zkmpc/maestro/crypto/hashutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultGitHubAPI is the REST endpoint identities are resolved against.
const defaultGitHubAPI = "https://api.github.com"

// Identity lookups are cached briefly so a client polling the coordinator
// does not hammer the provider with the same token.
const (
	identityCacheTTL     = 10 * time.Minute
	identityCacheCleanup = 15 * time.Minute
)

// GitHubVerifier resolves access tokens against the GitHub user endpoint.
type GitHubVerifier struct {
	// BaseURL overrides the GitHub API endpoint, for tests.
	BaseURL string
	cache   *gocache.Cache
}

var _ IdentityVerifier = (*GitHubVerifier)(nil)

// NewGitHubVerifier --
func NewGitHubVerifier() *GitHubVerifier {
	return &GitHubVerifier{
		BaseURL: defaultGitHubAPI,
		cache:   gocache.New(identityCacheTTL, identityCacheCleanup),
	}
}

// githubUser is the subset of the user document the coordinator needs.
type githubUser struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// VerifyIdentity exchanges a GitHub access token for the account it belongs
// to. Tokens are cached under their digest, never in the clear.
func (g *GitHubVerifier) VerifyIdentity(ctx context.Context, token string) (*Identity, error) {
	cacheKey := hashutil.Blake2b([]byte(token))
	if cached, ok := g.cache.Get(cacheKey); ok {
		identity, ok := cached.(*Identity)
		if !ok {
			return nil, errors.New("unexpected identity cache entry type")
		}
		return identity, nil
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not reach identity provider")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Error("Could not close identity response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("identity provider rejected the token with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "could not read identity response")
	}
	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, errors.Wrap(err, "could not decode identity response")
	}
	if user.Login == "" {
		return nil, errors.New("identity response carries no login")
	}
	identity := &Identity{
		UserID: fmt.Sprintf("github|%d", user.ID),
		Handle: user.Login,
	}
	g.cache.Set(cacheKey, identity, gocache.DefaultExpiration)
	return identity, nil
}
