package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pulsera/api/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	principal Principal
	err       error
	received  string
}

func (s *stubTokenVerifier) VerifyToken(ctx context.Context, token string) (Principal, error) {
	s.received = token
	if s.err != nil {
		return Principal{}, s.err
	}
	return s.principal, nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	return body
}

func TestRequireSession_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{principal: Principal{
		UID: "uid-123",
		Claims: map[string]any{
			"email":        "user@example.com",
			"role":         "authenticated",
			"app_metadata": map[string]any{"roles": []any{"Staff"}},
		},
	}}
	authn := NewAuthenticator(verifier, WithProviderName("supabase"))

	var seen *Identity
	handler := authn.RequireSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	ctx := requestctx.WithAttributes(req.Context())
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if seen.Email != "user@example.com" {
		t.Fatalf("expected email from claims, got %q", seen.Email)
	}
	if !seen.HasRole("staff") || !seen.HasRole("authenticated") {
		t.Fatalf("unexpected roles: %v", seen.Roles)
	}
	if seen.Provider != "supabase" {
		t.Fatalf("expected provider supabase, got %q", seen.Provider)
	}
	if got := requestctx.Attribute(ctx, requestctx.AttrUserID); got != "uid-123" {
		t.Fatalf("expected user attribute to be recorded, got %v", got)
	}
}

func TestRequireSession_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.RequireSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body["error"] != "unauthenticated" {
		t.Fatalf("expected unauthenticated error, got %v", body["error"])
	}
}

func TestRequireSession_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	handler := authn.RequireSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body["error"] != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", body["error"])
	}
}

func TestRequireSession_InvalidToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("boom")})
	handler := authn.RequireSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if body := decodeError(t, rr); body["error"] != "invalid_token" {
		t.Fatalf("expected invalid_token error, got %v", body["error"])
	}
}

func TestRequireAdmin(t *testing.T) {
	policy := NewAdminPolicy("", []string{" Owner@Example.com "})

	cases := []struct {
		name      string
		principal Principal
		want      int
	}{
		{
			name:      "role claim",
			principal: Principal{UID: "a", Claims: map[string]any{"app_metadata": map[string]any{"role": "admin"}}},
			want:      http.StatusOK,
		},
		{
			name:      "allow-listed email",
			principal: Principal{UID: "b", Email: "owner@example.com"},
			want:      http.StatusOK,
		},
		{
			name:      "regular customer",
			principal: Principal{UID: "c", Email: "someone@example.com", Claims: map[string]any{"role": "authenticated"}},
			want:      http.StatusForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{principal: tc.principal}, WithAdminPolicy(policy))
			handler := authn.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPatch, "/", nil)
			req.Header.Set("Authorization", "Bearer t")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestAdminPolicy_NilIdentity(t *testing.T) {
	if NewAdminPolicy("admin", []string{"a@example.com"}).IsAdmin(nil) {
		t.Fatalf("nil identity must not be admin")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		ok     bool
	}{
		"valid":        {header: "Bearer abc", token: "abc", ok: true},
		"lowercase":    {header: "bearer abc", token: "abc", ok: true},
		"basic scheme": {header: "Basic abc", ok: false},
		"empty token":  {header: "Bearer   ", ok: false},
		"no scheme":    {header: "abc", ok: false},
	}
	for name, tc := range cases {
		token, ok := extractBearerToken(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("%s: got (%q,%v) want (%q,%v)", name, token, ok, tc.token, tc.ok)
		}
	}
}
