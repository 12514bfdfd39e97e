package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/logrusorgru/aurora"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	mtime "github.com/zkmpc/maestro/time"
)

// sessionFilename is the login state persisted under the CLI data
// directory.
const sessionFilename = "session.json"

// deviceFlowScopes cover reading the public profile for identity and
// creating gists for attestation publication.
var deviceFlowScopes = []string{"read:user", "gist"}

// Session is the locally persisted login state of the CLI. ProviderToken is
// kept alongside the coordinator session so the attestation gist can be
// published without a second device-flow round trip.
type Session struct {
	Token         string `json:"token"`
	ProviderToken string `json:"providerToken"`
	UserID        string `json:"userId"`
	Handle        string `json:"handle"`
	Coordinator   bool   `json:"coordinator"`
	SavedAt       int64  `json:"savedAt"`
}

// LoginWithDevice runs the GitHub device-code flow, exchanges the granted
// provider token for a coordinator session and returns the combined login
// state. The user is told where to enter the one-time code on out.
func LoginWithDevice(ctx context.Context, cl *Client, clientID string, out io.Writer) (*Session, error) {
	if clientID == "" {
		return nil, errors.New("a GitHub OAuth client id is required for the device flow")
	}
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: githuboauth.Endpoint,
		Scopes:   deviceFlowScopes,
	}
	grant, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not start the device flow")
	}
	au := aurora.NewAurora(true)
	fmt.Fprintf(out, "Visit %s and enter the code %s\n",
		au.Bold(grant.VerificationURI), au.Bold(grant.UserCode))
	fmt.Fprintln(out, "Waiting for the authorization to come through...")
	token, err := cfg.DeviceAccessToken(ctx, grant)
	if err != nil {
		return nil, errors.Wrap(err, "device authorization did not complete")
	}
	return LoginWithToken(ctx, cl, token.AccessToken)
}

// LoginWithToken exchanges an already-granted provider access token for a
// coordinator session.
func LoginWithToken(ctx context.Context, cl *Client, providerToken string) (*Session, error) {
	resp, err := cl.Login(ctx, providerToken)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:         resp.Token,
		ProviderToken: providerToken,
		UserID:        resp.UserID,
		Handle:        resp.Handle,
		Coordinator:   resp.Coordinator,
		SavedAt:       mtime.NowMillis(),
	}, nil
}

// SaveSession persists the login state under dataDir, readable only by the
// owner.
func SaveSession(dataDir string, s *Session) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return errors.Wrapf(err, "could not create %s", dataDir)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not encode session")
	}
	return os.WriteFile(filepath.Join(dataDir, sessionFilename), data, 0o600)
}

// LoadSession reads the persisted login state. A missing file returns nil
// without error; the caller prompts for a login.
func LoadSession(dataDir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, sessionFilename)) // #nosec G304
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read session file")
	}
	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "could not decode session file")
	}
	return s, nil
}

// ClearSession removes the persisted login state.
func ClearSession(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, sessionFilename))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
