package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long checkout replays are retained.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle state of a stored key.
type State string

const (
	StateInFlight State = "in_flight"
	StateDone     State = "done"
)

// Outcome describes what a Claim call found.
type Outcome int

const (
	// OutcomeAcquired means the caller owns the key and must run the request.
	OutcomeAcquired Outcome = iota
	// OutcomeReplay means a completed response exists and should be written back verbatim.
	OutcomeReplay
	// OutcomeBusy means another request holding the same key has not finished yet.
	OutcomeBusy
)

// Entry is the persisted view of a key.
type Entry struct {
	Key         string
	Fingerprint string
	State       State
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome Outcome
	Entry   Entry
}

// Captured is the response recorded for later replays.
type Captured struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists keys and their captured responses.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp Captured, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReuse is returned when a key is presented again with a different request payload.
var ErrKeyReuse = errors.New("idempotency: key already used for a different request")

// documentID hashes the scoped key so arbitrary client input is safe as a map key or document id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopByHop = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Set-Cookie":        {},
}

func storableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
