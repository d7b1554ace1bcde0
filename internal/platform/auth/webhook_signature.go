package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries the provider webhook signature ("ts=...,v1=...").
	SignatureHeader = "X-Signature"
	// RequestIDHeader carries the provider delivery id included in the signed manifest.
	RequestIDHeader = "X-Request-Id"

	maxWebhookBodyBytes int64 = 1 << 20
	millisecondCutoff         = int64(1_000_000_000_000)
)

// SignatureVerifier validates Mercado Pago webhook signatures. A verifier without a secret
// rejects every delivery.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// SignatureOption customises SignatureVerifier.
type SignatureOption func(*SignatureVerifier)

// WithSignatureTolerance rejects signatures whose ts is further than d from now. Zero disables the check.
func WithSignatureTolerance(d time.Duration) SignatureOption {
	return func(v *SignatureVerifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithSignatureClock overrides the clock used for tolerance checks.
func WithSignatureClock(now func() time.Time) SignatureOption {
	return func(v *SignatureVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewSignatureVerifier constructs a verifier for the given shared secret.
func NewSignatureVerifier(secret string, opts ...SignatureOption) *SignatureVerifier {
	v := &SignatureVerifier{
		secret: []byte(strings.TrimSpace(secret)),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Configured reports whether a secret is present.
func (v *SignatureVerifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

// Verify checks signatureHeader against the manifest built from requestID and dataID.
func (v *SignatureVerifier) Verify(signatureHeader, requestID, dataID string) bool {
	if !v.Configured() {
		return false
	}
	ts, sig := parseSignatureHeader(signatureHeader)
	if ts == "" || sig == "" {
		return false
	}
	if v.tolerance > 0 && !v.withinTolerance(ts) {
		return false
	}
	expected, err := hex.DecodeString(ComputeSignature(v.secret, requestID, dataID, ts))
	if err != nil {
		return false
	}
	provided, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// ComputeSignature returns the hex HMAC-SHA256 of the webhook manifest.
func ComputeSignature(secret []byte, requestID, dataID, ts string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureManifest(requestID, dataID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureManifest(requestID, dataID, ts string) string {
	return "id:" + normaliseDataID(dataID) + ";request-id:" + strings.TrimSpace(requestID) + ";ts:" + ts + ";"
}

// Alphanumeric ids are signed lower-cased by the provider.
func normaliseDataID(dataID string) string {
	dataID = strings.TrimSpace(dataID)
	if dataID == "" {
		return ""
	}
	for _, r := range dataID {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return dataID
		}
	}
	return strings.ToLower(dataID)
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

func (v *SignatureVerifier) withinTolerance(ts string) bool {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n <= 0 {
		return false
	}
	var signedAt time.Time
	if n >= millisecondCutoff {
		signedAt = time.UnixMilli(n)
	} else {
		signedAt = time.Unix(n, 0)
	}
	delta := v.now().Sub(signedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= v.tolerance
}

// WebhookDataID extracts the notified resource id from the query ("data.id" or "id") or the
// JSON body ("data.id").
func WebhookDataID(query url.Values, body []byte) string {
	if id := strings.TrimSpace(query.Get("data.id")); id != "" {
		return id
	}
	if len(bytes.TrimSpace(body)) > 0 {
		var payload struct {
			Data struct {
				ID json.RawMessage `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			if id := rawIDString(payload.Data.ID); id != "" {
				return id
			}
		}
	}
	return strings.TrimSpace(query.Get("id"))
}

func rawIDString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// RequireWebhookSignature rejects deliveries whose signature does not verify with 401.
// The request body is buffered and restored for the next handler.
func RequireWebhookSignature(verifier *SignatureVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				data, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
				if err != nil || int64(len(data)) > maxWebhookBodyBytes {
					respondAuthError(w, r, http.StatusUnauthorized, "invalid_signature", "webhook signature invalid")
					return
				}
				body = data
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			dataID := WebhookDataID(r.URL.Query(), body)
			if !verifier.Verify(r.Header.Get(SignatureHeader), r.Header.Get(RequestIDHeader), dataID) {
				respondAuthError(w, r, http.StatusUnauthorized, "invalid_signature", "webhook signature invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
