package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/supabase-community/supabase-go"

	"github.com/pulsera/api/internal/platform/config"
)

type supabaseUserLookup func(ctx context.Context, token string) (Principal, error)

// SupabaseVerifier verifies Supabase session tokens. When the project JWT secret is known the
// token is checked locally (HS256); otherwise the Auth API resolves the user remotely.
type SupabaseVerifier struct {
	secret []byte
	lookup supabaseUserLookup
}

// NewSupabaseVerifier constructs a verifier from the Supabase configuration group.
func NewSupabaseVerifier(cfg config.SupabaseConfig) (*SupabaseVerifier, error) {
	v := &SupabaseVerifier{}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		v.secret = []byte(secret)
		return v, nil
	}
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("supabase url and api key are required when no jwt secret is configured")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise supabase client: %w", err)
	}
	v.lookup = func(ctx context.Context, token string) (Principal, error) {
		if err := ctx.Err(); err != nil {
			return Principal{}, err
		}
		resp, err := client.Auth.WithToken(token).GetUser()
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		claims := map[string]any{
			"sub":          resp.ID.String(),
			"email":        resp.Email,
			"role":         resp.Role,
			"app_metadata": map[string]any(resp.AppMetadata),
		}
		return Principal{UID: resp.ID.String(), Email: resp.Email, Claims: claims}, nil
	}
	return v, nil
}

// VerifyToken implements TokenVerifier.
func (v *SupabaseVerifier) VerifyToken(ctx context.Context, token string) (Principal, error) {
	if v == nil {
		return Principal{}, errors.New("supabase verifier not initialised")
	}
	if len(v.secret) == 0 {
		if v.lookup == nil {
			return Principal{}, errors.New("supabase verifier not initialised")
		}
		return v.lookup(ctx, token)
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrTokenInvalid
	}
	sub := claimAsString(claims, "sub")
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return Principal{
		UID:    sub,
		Email:  claimAsString(claims, "email"),
		Claims: map[string]any(claims),
	}, nil
}
