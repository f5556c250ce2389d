package logging

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

// RequestIDHeader carries the request ID in and out of the HTTP API.
const RequestIDHeader = "X-Request-ID"

// WithRequestID stores id in ctx. The *WithContext logger methods emit it as
// "request_id".
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NewRequestID returns a random request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// EnsureRequestID returns ctx unchanged when it already has a request ID,
// otherwise a child context carrying a fresh one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := NewRequestID()
	return WithRequestID(ctx, id), id
}

// WithIdentity stores the quota identity being served in ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Identity returns the quota identity stored in ctx, or "".
func Identity(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(string)
	return id
}
