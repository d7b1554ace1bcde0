package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey     contextKey = "github.com/pulsera/api/internal/platform/requestctx/logger"
	traceContextKey      contextKey = "github.com/pulsera/api/internal/platform/requestctx/trace"
	attributesContextKey contextKey = "github.com/pulsera/api/internal/platform/requestctx/attributes"
)

// Attribute keys recorded by inner middlewares and read back by the request logger.
const (
	AttrUserID       = "user_id"
	AttrIdempotency  = "idempotency_key"
	AttrPaymentID    = "payment_id"
	AttrPaymentTopic = "payment_topic"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type attributes struct {
	mu     sync.Mutex
	values map[string]string
}

// WithAttributes installs a mutable attribute bag. Values set by handlers deeper in the chain
// become visible to the middleware that installed the bag, which a plain context value cannot do.
func WithAttributes(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(attributesContextKey).(*attributes); ok {
		return ctx
	}
	return context.WithValue(ctx, attributesContextKey, &attributes{values: make(map[string]string)})
}

// SetAttribute records a request attribute. It is a no-op without WithAttributes.
func SetAttribute(ctx context.Context, key, value string) {
	if ctx == nil {
		return
	}
	bag, ok := ctx.Value(attributesContextKey).(*attributes)
	if !ok {
		return
	}
	bag.mu.Lock()
	bag.values[key] = value
	bag.mu.Unlock()
}

// Attribute returns a recorded request attribute or "".
func Attribute(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	bag, ok := ctx.Value(attributesContextKey).(*attributes)
	if !ok {
		return ""
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	return bag.values[key]
}
