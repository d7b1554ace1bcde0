package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/platform/requestctx"
)

const (
	// DefaultHeader is the request header carrying the client supplied key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks responses served from the store.
	ReplayHeader = "Idempotent-Replayed"

	maxKeyLength       = 255
	maxBodyBytes int64 = 1 << 20
)

// LogFunc receives event style log lines from the middleware.
type LogFunc func(ctx context.Context, event string, fields map[string]any)

type settings struct {
	header string
	ttl    time.Duration
	now    func() time.Time
	log    LogFunc
}

// Option customises Middleware.
type Option func(*settings)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) Option {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long completed responses can be replayed.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the event logger.
func WithLogger(log LogFunc) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// Middleware replays the stored response when a request repeats a previously seen key.
// Requests without the header pass through untouched. Server errors are not stored so the
// client may retry with the same key.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := settings{
		header: DefaultHeader,
		ttl:    DefaultTTL,
		now:    time.Now,
		log:    func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.BadRequest("invalid_idempotency_key", "idempotency key too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.BadRequest("invalid_body", "unable to read request body"))
				return
			}
			if int64(len(body)) > maxBodyBytes {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := r.Method + " " + r.URL.Path + " " + key
			fingerprint := sha256Hex(append([]byte(r.Header.Get("Content-Type")+"|"), body...))
			requestctx.SetAttribute(ctx, requestctx.AttrIdempotency, key)

			claim, err := store.Claim(ctx, scoped, fingerprint, cfg.now(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrKeyReuse) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
					return
				}
				cfg.log(ctx, "idempotency.claim.failed", map[string]any{"error": err})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				replay(w, claim.Entry)
				return
			case OutcomeBusy:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			rec := &capture{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.statusCode() >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, scoped); err != nil {
					cfg.log(ctx, "idempotency.abandon.failed", map[string]any{"error": err})
				}
			} else if err := store.Complete(ctx, scoped, fingerprint, rec.captured(), cfg.now(), cfg.ttl); err != nil {
				cfg.log(ctx, "idempotency.complete.failed", map[string]any{"error": err})
			}
			rec.flush(w)
		})
	}
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

// capture buffers the downstream response so it can be stored before reaching the client.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capture) captured() Captured {
	return Captured{Status: c.statusCode(), Header: c.header.Clone(), Body: c.body.Bytes()}
}

func (c *capture) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.statusCode())
	_, _ = w.Write(c.body.Bytes())
}
