package limiter

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type chatResponse struct {
	Text  string     `json:"text"`
	Usage usageBlock `json:"usage"`
}

func respond(in, out int) func(context.Context) (chatResponse, error) {
	return func(context.Context) (chatResponse, error) {
		return chatResponse{Text: "ok", Usage: usageBlock{InputTokens: in, OutputTokens: out}}, nil
	}
}

func TestWrap_RecordsUsageAndCost(t *testing.T) {
	ctx := context.Background()
	cfg := singleLimit(100000, time.Hour)
	cfg.TrackCost = true
	l, _ := newTestLimiter(t, cfg)

	result, err := Wrap(ctx, l, "user-1", func(context.Context) (map[string]any, error) {
		return map[string]any{"usage": map[string]any{"input_tokens": 10, "output_tokens": 20}}, nil
	}, WithModel("claude-3-sonnet"))
	require.NoError(t, err)
	assert.Contains(t, result, "usage")

	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats.TokensUsed)
	require.NotNil(t, stats.CostUsed)
	assert.InDelta(t, 0.00033, *stats.CostUsed, 1e-12)
}

func TestWrap_StructResultWithoutCostTracking(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, singleLimit(1000, time.Hour))

	result, err := Wrap(ctx, l, "user-1", respond(5, 7), WithModel("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)

	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TokensUsed)
	assert.Nil(t, stats.CostUsed)
}

func TestWrap_FailsOpenByDefault(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, singleLimit(10, time.Hour))
	require.NoError(t, l.AddTokens(ctx, "user-1", 10, 0))

	called := false
	_, err := Wrap(ctx, l, "user-1", func(ctx context.Context) (chatResponse, error) {
		called = true
		return respond(1, 1)(ctx)
	})
	require.NoError(t, err)
	assert.True(t, called)

	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TokensUsed)
}

func TestWrap_ThrowOnLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, singleLimit(10, time.Hour))
	require.NoError(t, l.AddTokens(ctx, "user-1", 10, 0))

	called := false
	_, err := Wrap(ctx, l, "user-1", func(ctx context.Context) (chatResponse, error) {
		called = true
		return respond(1, 1)(ctx)
	}, WithThrowOnLimit())

	var exceeded *errors.ErrQuotaExceeded
	require.True(t, stderrors.As(err, &exceeded))
	assert.Equal(t, "user-1", exceeded.Identity)
	assert.Equal(t, "rate limit exceeded for identity user-1", err.Error())
	assert.False(t, called)
}

func TestWrap_FunctionErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	s := newCountingStore()
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour), WithStore(s))

	boom := stderrors.New("upstream timeout")
	_, err := Wrap(ctx, l, "user-1", func(context.Context) (chatResponse, error) {
		return chatResponse{Usage: usageBlock{InputTokens: 50, OutputTokens: 50}}, boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 0, s.saves)
}

func TestWrap_NoUsageRecordsNothing(t *testing.T) {
	ctx := context.Background()
	s := newCountingStore()
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour), WithStore(s))

	result, err := Wrap(ctx, l, "user-1", func(context.Context) (string, error) {
		return "plain text", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "plain text", result)

	_, err = Wrap(ctx, l, "user-1", respond(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, s.saves)
}

func TestWrap_InvalidIdentity(t *testing.T) {
	called := false
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour))
	_, err := Wrap(context.Background(), l, "", func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	var invalid *errors.ErrInvalidInput
	assert.True(t, stderrors.As(err, &invalid))
	assert.False(t, called)
}
