package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["uptime"] != "30s" || body["version"] != "1.0.0" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	dbErr := errors.New("connection refused")
	var dbDown bool
	handlers := NewHealthHandlers(WithReadinessCheck("postgres", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("readiness checks must run with a deadline")
		}
		if dbDown {
			return dbErr
		}
		return nil
	}))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	dbDown = true
	rr = httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	checks := decodeBody(t, rr)["checks"].(map[string]any)
	if checks["postgres"] != "error" {
		t.Fatalf("unexpected checks %v", checks)
	}
	if strings.Contains(rr.Body.String(), dbErr.Error()) {
		t.Fatal("dependency errors must not be exposed")
	}
}
