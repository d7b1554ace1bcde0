package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testWebhookSecret = "whsec-test"

func signedHeader(secret, requestID, dataID, ts string) string {
	return "ts=" + ts + ",v1=" + ComputeSignature([]byte(secret), requestID, dataID, ts)
}

func TestSignatureVerifier_Verify(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret)
	valid := signedHeader(testWebhookSecret, "req-1", "123456", "1704908010")

	cases := []struct {
		name      string
		header    string
		requestID string
		dataID    string
		want      bool
	}{
		{name: "valid", header: valid, requestID: "req-1", dataID: "123456", want: true},
		{name: "spaces around parts", header: strings.ReplaceAll(valid, ",", " , "), requestID: "req-1", dataID: "123456", want: true},
		{name: "tampered data id", header: valid, requestID: "req-1", dataID: "654321", want: false},
		{name: "tampered request id", header: valid, requestID: "req-2", dataID: "123456", want: false},
		{name: "missing header", header: "", requestID: "req-1", dataID: "123456", want: false},
		{name: "missing v1", header: "ts=1704908010", requestID: "req-1", dataID: "123456", want: false},
		{name: "missing ts", header: "v1=abcdef", requestID: "req-1", dataID: "123456", want: false},
		{name: "non hex signature", header: "ts=1704908010,v1=zzzz", requestID: "req-1", dataID: "123456", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := verifier.Verify(tc.header, tc.requestID, tc.dataID); got != tc.want {
				t.Fatalf("Verify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSignatureVerifier_FailsClosedWithoutSecret(t *testing.T) {
	verifier := NewSignatureVerifier("  ")
	header := signedHeader("", "req-1", "1", "1704908010")
	if verifier.Verify(header, "req-1", "1") {
		t.Fatalf("expected verification to fail without a secret")
	}
	var nilVerifier *SignatureVerifier
	if nilVerifier.Verify(header, "req-1", "1") {
		t.Fatalf("expected nil verifier to reject")
	}
}

func TestSignatureVerifier_LowercasesAlphanumericDataID(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret)
	mac := ComputeSignature([]byte(testWebhookSecret), "req-1", "abc123", "10")
	if !verifier.Verify("ts=10,v1="+mac, "req-1", "ABC123") {
		t.Fatalf("expected upper-case alphanumeric id to verify against the lower-cased manifest")
	}
	if got := signatureManifest("r", "AB-12", "1"); got != "id:AB-12;request-id:r;ts:1;" {
		t.Fatalf("non-alphanumeric id must be kept verbatim, got %q", got)
	}
}

func TestSignatureVerifier_Tolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	verifier := NewSignatureVerifier(testWebhookSecret,
		WithSignatureTolerance(5*time.Minute),
		WithSignatureClock(func() time.Time { return now }),
	)

	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	if !verifier.Verify(signedHeader(testWebhookSecret, "r", "1", fresh), "r", "1") {
		t.Fatalf("expected fresh signature to verify")
	}
	freshMillis := strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10)
	if !verifier.Verify(signedHeader(testWebhookSecret, "r", "1", freshMillis), "r", "1") {
		t.Fatalf("expected millisecond timestamp to verify")
	}
	stale := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	if verifier.Verify(signedHeader(testWebhookSecret, "r", "1", stale), "r", "1") {
		t.Fatalf("expected stale signature to be rejected")
	}
}

func TestWebhookDataID(t *testing.T) {
	if got := WebhookDataID(url.Values{"data.id": {"77"}}, []byte(`{"data":{"id":"88"}}`)); got != "77" {
		t.Fatalf("query data.id should win, got %q", got)
	}
	if got := WebhookDataID(url.Values{}, []byte(`{"data":{"id":88}}`)); got != "88" {
		t.Fatalf("expected numeric body id, got %q", got)
	}
	if got := WebhookDataID(url.Values{"id": {"99"}, "topic": {"payment"}}, nil); got != "99" {
		t.Fatalf("expected legacy id query param, got %q", got)
	}
}

func TestRequireWebhookSignature(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret)
	body := `{"type":"payment","data":{"id":"123"}}`

	var reached bool
	var forwarded string
	handler := RequireWebhookSignature(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(r.Body); err != nil {
			t.Fatalf("read body: %v", err)
		}
		forwarded = buf.String()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(body))
	req.Header.Set(RequestIDHeader, "req-9")
	req.Header.Set(SignatureHeader, signedHeader(testWebhookSecret, "req-9", "123", "1704908010"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !reached {
		t.Fatalf("expected signed delivery to pass, got %d", rr.Code)
	}
	if forwarded != body {
		t.Fatalf("expected body to be restored, got %q", forwarded)
	}

	reached = false
	req = httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(body))
	req.Header.Set(RequestIDHeader, "req-9")
	req.Header.Set(SignatureHeader, "ts=1704908010,v1=deadbeef")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized || reached {
		t.Fatalf("expected tampered delivery to be rejected, got %d", rr.Code)
	}
	if got := decodeError(t, rr)["error"]; got != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %v", got)
	}
}
