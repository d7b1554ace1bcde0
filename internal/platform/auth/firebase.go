package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/pulsera/api/internal/platform/config"
)

type firebaseTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens through the Admin SDK.
type FirebaseVerifier struct {
	client firebaseTokenClient
}

// NewFirebaseVerifier constructs a FirebaseVerifier backed by the Admin SDK.
func NewFirebaseVerifier(ctx context.Context, cfg config.AuthConfig) (*FirebaseVerifier, error) {
	if strings.TrimSpace(cfg.FirebaseProjectID) == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: authClient}, nil
}

// VerifyToken implements TokenVerifier.
func (v *FirebaseVerifier) VerifyToken(ctx context.Context, token string) (Principal, error) {
	if v == nil || v.client == nil {
		return Principal{}, errors.New("firebase verifier not initialised")
	}
	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) {
			return Principal{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if decoded == nil {
		return Principal{}, ErrTokenInvalid
	}
	return Principal{
		UID:    decoded.UID,
		Email:  claimAsString(decoded.Claims, "email"),
		Claims: decoded.Claims,
	}, nil
}
