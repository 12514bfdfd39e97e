package auth

import (
	"context"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// FirebaseVerifier resolves Firebase ID tokens. Deployments migrating from
// a Firebase-hosted coordinator keep their existing accounts this way. A
// `coordinator` custom claim on the token asserts the role directly.
type FirebaseVerifier struct {
	client *firebaseauth.Client
}

var _ IdentityVerifier = (*FirebaseVerifier)(nil)

// NewFirebaseVerifier --
func NewFirebaseVerifier(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirebaseVerifier, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize identity app")
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize identity client")
	}
	return &FirebaseVerifier{client: client}, nil
}

// VerifyIdentity validates a Firebase ID token and maps it onto the
// coordinator's identity shape.
func (f *FirebaseVerifier) VerifyIdentity(ctx context.Context, token string) (*Identity, error) {
	decoded, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, "could not verify identity token")
	}
	handle := decoded.UID
	if name, ok := decoded.Claims["name"].(string); ok && name != "" {
		handle = name
	}
	coordinator, _ := decoded.Claims["coordinator"].(bool)
	return &Identity{
		UserID:      "firebase|" + decoded.UID,
		Handle:      handle,
		Coordinator: coordinator,
	}, nil
}
