package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	same, id := EnsureRequestID(ctx)
	assert.Equal(t, "req-1", id)
	assert.Equal(t, ctx, same)

	fresh, id := EnsureRequestID(context.Background())
	assert.Len(t, id, 36)
	assert.Equal(t, id, RequestID(fresh))
	assert.NotEqual(t, id, NewRequestID())
}

func TestIdentity(t *testing.T) {
	assert.Empty(t, Identity(context.Background()))
	ctx := WithIdentity(context.Background(), "user-1")
	assert.Equal(t, "user-1", Identity(ctx))
	assert.Empty(t, RequestID(ctx))
}
