package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

const correlationKey = contextKey("correlation_id")

// NewRouterCorrelationID returns a correlation ID for router-entry requests.
func NewRouterCorrelationID() string {
	return "llm-router-" + uuid.NewString()
}

// NewModelOpCorrelationID returns a correlation ID for memory/model
// operations.
func NewModelOpCorrelationID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// rand failure is effectively impossible; fall back to uuid bytes
		u := uuid.New()
		copy(buf, u[:6])
	}
	return fmt.Sprintf("model-op-%s", hex.EncodeToString(buf))
}

// WithCorrelationID stores the ID in the context. The ID is a first-class
// request value: once injected at the outermost entry it travels unchanged
// through every log line and metric of that request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the ID from the context, or "" if absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// EnsureCorrelationID returns the context's ID, minting one with the given
// generator when absent.
func EnsureCorrelationID(ctx context.Context, gen func() string) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := gen()
	return WithCorrelationID(ctx, id), id
}
