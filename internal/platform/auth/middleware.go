package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the provided session token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: session token invalid")
)

// Principal is the provider neutral result of a successful token verification.
type Principal struct {
	UID    string
	Email  string
	Claims map[string]any
}

// TokenVerifier verifies bearer session tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Principal, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (Principal, error)

// VerifyToken implements TokenVerifier.
func (f TokenVerifierFunc) VerifyToken(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

// Authenticator wires session verification and the admin policy into HTTP middleware.
type Authenticator struct {
	verifier   TokenVerifier
	policy     AdminPolicy
	provider   string
	roleClaims []string
	timeout    time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithAdminPolicy sets the policy enforced by RequireAdmin.
func WithAdminPolicy(policy AdminPolicy) Option {
	return func(a *Authenticator) {
		a.policy = policy
	}
}

// WithRoleClaims overrides the claims inspected for roles. Dotted names address nested
// objects, e.g. "app_metadata.role".
func WithRoleClaims(claims ...string) Option {
	return func(a *Authenticator) {
		var out []string
		for _, claim := range claims {
			if claim = strings.TrimSpace(claim); claim != "" {
				out = append(out, claim)
			}
		}
		if len(out) > 0 {
			a.roleClaims = out
		}
	}
}

// WithProviderName labels identities with the session provider.
func WithProviderName(name string) Option {
	return func(a *Authenticator) {
		a.provider = strings.TrimSpace(name)
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:   verifier,
		policy:     NewAdminPolicy(RoleAdmin, nil),
		roleClaims: []string{defaultRoleClaim, "app_metadata.role", "app_metadata.roles"},
		timeout:    defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireSession verifies the Authorization bearer token and stores the identity in context.
func (a *Authenticator) RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := a.authenticate(w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin verifies the session and enforces the admin policy: no session yields 401,
// a session without admin rights yields 403.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := a.authenticate(w, r)
			if !ok {
				return
			}
			if !a.policy.IsAdmin(identity) {
				respondAuthError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// IsAdmin exposes the configured policy to handlers.
func (a *Authenticator) IsAdmin(identity *Identity) bool {
	if a == nil {
		return false
	}
	return a.policy.IsAdmin(identity)
}

func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
		return nil, false
	}
	if a == nil || a.verifier == nil {
		respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	principal, err := a.verifier.VerifyToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			respondAuthError(w, r, http.StatusUnauthorized, "token_expired", "session token expired")
		} else {
			respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "session token invalid")
		}
		return nil, false
	}
	if strings.TrimSpace(principal.UID) == "" {
		respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "session token invalid")
		return nil, false
	}

	identity := &Identity{
		UID:      principal.UID,
		Email:    strings.TrimSpace(principal.Email),
		Provider: a.provider,
		Claims:   principal.Claims,
	}
	if identity.Email == "" {
		identity.Email = claimAsString(principal.Claims, "email")
	}
	for _, claim := range a.roleClaims {
		identity.Roles = appendUnique(identity.Roles, rolesFromClaim(principal.Claims, claim)...)
	}
	requestctx.SetAttribute(r.Context(), requestctx.AttrUserID, identity.UID)
	return identity, true
}

func rolesFromClaim(claims map[string]any, path string) []string {
	var raw any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil
		}
		if raw, ok = m[part]; !ok {
			return nil
		}
	}
	switch v := raw.(type) {
	case string:
		return []string{normaliseRole(v)}
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, normaliseRole(item))
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, normaliseRole(s))
			}
		}
		return out
	case map[string]any:
		out := make([]string, 0, len(v))
		for key, value := range v {
			if enabled, ok := value.(bool); ok && enabled {
				out = append(out, normaliseRole(key))
			}
		}
		return out
	case bool:
		// {"admin": true} style flag addressed directly by path.
		if v {
			parts := strings.Split(path, ".")
			return []string{normaliseRole(parts[len(parts)-1])}
		}
	}
	return nil
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func claimAsString(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
