package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/zkmpc/maestro/testing/require"
)

type stubVerifier struct {
	identity *Identity
	err      error
}

func (s *stubVerifier) VerifyIdentity(_ context.Context, _ string) (*Identity, error) {
	return s.identity, s.err
}

func setupAuthenticator(t *testing.T, cfg *Config) *Authenticator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if cfg.SecretPath == "" {
		cfg.SecretPath = filepath.Join(t.TempDir(), "session-secret")
	}
	a, err := New(ctx, cfg)
	require.NoError(t, err, "Failed to instantiate authenticator")
	return a
}

func TestAuthenticator_LoginAndVerify(t *testing.T) {
	a := setupAuthenticator(t, &Config{
		Verifier: &stubVerifier{identity: &Identity{UserID: "github|1234", Handle: "alice"}},
	})
	token, claims, err := a.Login(context.Background(), "provider-token")
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Handle)
	require.Equal(t, false, claims.Coordinator)

	parsed, err := a.VerifySession(token)
	require.NoError(t, err)
	require.Equal(t, "github|1234", parsed.Subject)
	require.Equal(t, "alice", parsed.Handle)
	require.Equal(t, false, parsed.Coordinator)
}

func TestAuthenticator_CoordinatorClaim(t *testing.T) {
	a := setupAuthenticator(t, &Config{
		Coordinators: []string{"Alice"},
		Verifier:     &stubVerifier{identity: &Identity{UserID: "github|1234", Handle: "alice"}},
	})
	_, claims, err := a.Login(context.Background(), "provider-token")
	require.NoError(t, err)
	require.Equal(t, true, claims.Coordinator, "Expected the configured handle to match case-insensitively")

	// A provider-asserted role needs no configured handle.
	a = setupAuthenticator(t, &Config{
		Verifier: &stubVerifier{identity: &Identity{UserID: "firebase|uid", Handle: "ops", Coordinator: true}},
	})
	_, claims, err = a.Login(context.Background(), "provider-token")
	require.NoError(t, err)
	require.Equal(t, true, claims.Coordinator)
}

func TestAuthenticator_SecretPersistsAcrossRestarts(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "session-secret")
	verifier := &stubVerifier{identity: &Identity{UserID: "github|1234", Handle: "alice"}}

	a1 := setupAuthenticator(t, &Config{SecretPath: secretPath, Verifier: verifier})
	token, _, err := a1.Login(context.Background(), "provider-token")
	require.NoError(t, err)

	a2 := setupAuthenticator(t, &Config{SecretPath: secretPath, Verifier: verifier})
	claims, err := a2.VerifySession(token)
	require.NoError(t, err, "Expected a restarted authenticator to accept prior sessions")
	require.Equal(t, "alice", claims.Handle)
}

func TestAuthenticator_RejectsExpiredSession(t *testing.T) {
	a := setupAuthenticator(t, &Config{
		Verifier: &stubVerifier{identity: &Identity{UserID: "github|1234", Handle: "alice"}},
	})
	claims := &Claims{
		Handle: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "github|1234",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	a.lock.RLock()
	secret := a.secret
	a.lock.RUnlock()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	_, err = a.VerifySession(token)
	require.ErrorContains(t, "expired", err)
}

func TestAuthenticator_RejectsForeignToken(t *testing.T) {
	verifier := &stubVerifier{identity: &Identity{UserID: "github|1234", Handle: "alice"}}
	a1 := setupAuthenticator(t, &Config{Verifier: verifier})
	a2 := setupAuthenticator(t, &Config{Verifier: verifier})

	token, _, err := a1.Login(context.Background(), "provider-token")
	require.NoError(t, err)
	_, err = a2.VerifySession(token)
	require.ErrorContains(t, "signature is invalid", err)
}
