// Package auth issues and verifies the coordinator-signed session tokens
// and wraps the identity providers participants authenticate against. The
// provider flow itself is opaque here: a verifier turns a provider token
// into a stable identity, and everything downstream trusts only the session
// claims.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/io/file"
	mtime "github.com/zkmpc/maestro/time"
)

var log = logrus.WithField("prefix", "auth")

// DefaultSessionDuration bounds a session token's lifetime.
const DefaultSessionDuration = 24 * time.Hour

// sessionIssuer names the token minter in the iss claim.
const sessionIssuer = "maestro"

// Identity is a provider-attested caller identity.
type Identity struct {
	// UserID is the stable identifier, namespaced by provider,
	// e.g. "github|1234".
	UserID string
	// Handle is the human-readable login name.
	Handle string
	// Coordinator is set when the provider itself asserts the role, as a
	// custom claim does. It is ORed with the configured handle list.
	Coordinator bool
}

// IdentityVerifier exchanges a provider token for an identity.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, token string) (*Identity, error)
}

// Claims carried by every session token.
type Claims struct {
	Handle      string `json:"handle"`
	Coordinator bool   `json:"coordinator"`
	jwt.RegisteredClaims
}

// Config for the authenticator.
type Config struct {
	// SecretPath is the hex-encoded HMAC secret file. A missing file is
	// created with a fresh 256 bit secret. The file is watched and
	// reloaded on change.
	SecretPath string
	// SessionDuration overrides DefaultSessionDuration when positive.
	SessionDuration time.Duration
	// Coordinators lists the provider handles granted the coordinator
	// claim at login. Matching is case-insensitive.
	Coordinators []string
	// Verifier exchanges provider tokens at login.
	Verifier IdentityVerifier
}

// Authenticator mints and verifies session tokens.
type Authenticator struct {
	cfg          *Config
	verifier     IdentityVerifier
	coordinators map[string]bool

	lock   sync.RWMutex
	secret []byte
}

// New loads or creates the signing secret and starts the secret file
// watcher. The watcher stops when ctx is canceled.
func New(ctx context.Context, cfg *Config) (*Authenticator, error) {
	if cfg.SecretPath == "" {
		return nil, errors.New("session secret path is empty")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("identity verifier is required")
	}
	a := &Authenticator{
		cfg:          cfg,
		verifier:     cfg.Verifier,
		coordinators: make(map[string]bool, len(cfg.Coordinators)),
	}
	for _, handle := range cfg.Coordinators {
		a.coordinators[strings.ToLower(handle)] = true
	}
	if err := a.initializeSecret(); err != nil {
		return nil, err
	}
	go a.refreshSecretFromFileChanges(ctx)
	return a, nil
}

// Login exchanges a provider token for a signed session token.
func (a *Authenticator) Login(ctx context.Context, providerToken string) (string, *Claims, error) {
	identity, err := a.verifier.VerifyIdentity(ctx, providerToken)
	if err != nil {
		return "", nil, errors.Wrap(err, "could not verify identity")
	}
	now := mtime.Now()
	claims := &Claims{
		Handle:      identity.Handle,
		Coordinator: identity.Coordinator || a.coordinators[strings.ToLower(identity.Handle)],
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.sessionDuration())),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	a.lock.RLock()
	secret := a.secret
	a.lock.RUnlock()
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", nil, errors.Wrap(err, "could not sign session token")
	}
	log.WithFields(logrus.Fields{
		"handle":      claims.Handle,
		"coordinator": claims.Coordinator,
	}).Info("Issued session token")
	return signed, claims, nil
}

// VerifySession parses and validates a session token string.
func (a *Authenticator) VerifySession(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		a.lock.RLock()
		defer a.lock.RUnlock()
		return a.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not parse session token")
	}
	if !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

func (a *Authenticator) sessionDuration() time.Duration {
	if a.cfg.SessionDuration > 0 {
		return a.cfg.SessionDuration
	}
	return DefaultSessionDuration
}

func (a *Authenticator) initializeSecret() error {
	if file.FileExists(a.cfg.SecretPath) {
		return a.loadSecret()
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return errors.Wrap(err, "could not generate session secret")
	}
	if err := file.WriteFile(a.cfg.SecretPath, []byte(hex.EncodeToString(secret)+"\n")); err != nil {
		return errors.Wrapf(err, "could not write session secret to %s", a.cfg.SecretPath)
	}
	a.lock.Lock()
	a.secret = secret
	a.lock.Unlock()
	log.Infof("Generated session secret and saved it to %s", a.cfg.SecretPath)
	return nil
}

func (a *Authenticator) loadSecret() error {
	raw, err := file.ReadFileAsBytes(a.cfg.SecretPath)
	if err != nil {
		return errors.Wrapf(err, "could not read session secret from %s", a.cfg.SecretPath)
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return errors.Wrap(err, "could not decode session secret")
	}
	if len(secret) < 32 {
		return errors.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	a.lock.Lock()
	a.secret = secret
	a.lock.Unlock()
	return nil
}

func (a *Authenticator) refreshSecretFromFileChanges(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Error("Could not initialize file watcher")
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Error("Could not close file watcher")
		}
	}()
	if err := watcher.Add(a.cfg.SecretPath); err != nil {
		log.WithError(err).Errorf("Could not add file %s to file watcher", a.cfg.SecretPath)
		return
	}
	for {
		select {
		case event := <-watcher.Events:
			if event.Op.String() == "REMOVE" {
				log.Error("Session secret file was removed! Existing sessions remain valid until expiry")
				continue
			}
			if err := a.loadSecret(); err != nil {
				log.WithError(err).Errorf("Could not reload session secret from %s", a.cfg.SecretPath)
				continue
			}
			log.Info("Reloaded session secret, previously issued tokens are void")
		case err := <-watcher.Errors:
			log.WithError(err).Errorf("Could not watch for file changes for: %s", a.cfg.SecretPath)
		case <-ctx.Done():
			return
		}
	}
}
