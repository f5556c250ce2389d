package limiter

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingStore records every storage call and can inject failures.
type countingStore struct {
	inner   *store.MemoryStore
	mu      sync.Mutex
	loads   int
	saves   int
	deletes int
	loadErr error
	saveErr error
}

func newCountingStore() *countingStore {
	return &countingStore{inner: store.NewMemoryStore()}
}

func (s *countingStore) Load(ctx context.Context, identity string) (*models.Ledger, error) {
	s.mu.Lock()
	s.loads++
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.Load(ctx, identity)
}

func (s *countingStore) Save(ctx context.Context, identity string, ledger *models.Ledger) error {
	s.mu.Lock()
	s.saves++
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, identity, ledger)
}

func (s *countingStore) Delete(ctx context.Context, identity string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.inner.Delete(ctx, identity)
}

func (s *countingStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads + s.saves + s.deletes
}

func singleLimit(tokens float64, window time.Duration) models.QuotaConfig {
	return models.QuotaConfig{Limits: []models.LimitSpec{{Tokens: tokens, Window: window}}}
}

func newTestLimiter(t *testing.T, cfg models.QuotaConfig, opts ...Option) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l, err := New(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return l, clock
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(models.QuotaConfig{})
	var invalid *errors.ErrInvalidInput
	require.True(t, stderrors.As(err, &invalid))
	assert.Equal(t, "limits", invalid.Field)

	_, err = New(singleLimit(10, time.Minute), WithStore(nil))
	assert.Error(t, err)
}

func TestConfig_ReturnsNormalizedCopy(t *testing.T) {
	l, _ := newTestLimiter(t, singleLimit(10, time.Minute))
	cfg := l.Config()
	assert.Equal(t, []float64{80, 90, 100}, cfg.Thresholds)

	cfg.Limits[0].Tokens = 1
	assert.Equal(t, float64(10), l.Config().Limits[0].Tokens)
}

func TestAddTokens_SumsAndResets(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t, singleLimit(10000, time.Hour))

	for _, n := range []int64{100, 250, 0, 650} {
		require.NoError(t, l.AddTokens(ctx, "user-1", n, 0))
		clock.Advance(time.Minute)
	}

	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stats.TokensUsed)
	assert.Equal(t, int64(9000), stats.Remaining)
	assert.InDelta(t, 10.0, stats.PercentUsed, 1e-9)
	assert.Equal(t, clock.Now().Add(time.Hour), stats.ResetAt)

	require.NoError(t, l.Reset(ctx, "user-1"))
	stats, err = l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TokensUsed)
}

func TestCheck_CeilingBoundary(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour))

	allowed, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, l.AddTokens(ctx, "user-1", 99, 0))
	allowed, err = l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, l.AddTokens(ctx, "user-1", 1, 0))
	allowed, err = l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheck_Burst(t *testing.T) {
	ctx := context.Background()
	cfg := singleLimit(100, time.Hour)
	cfg.BurstPercent = 20
	l, _ := newTestLimiter(t, cfg)

	require.NoError(t, l.AddTokens(ctx, "user-1", 119, 0))
	allowed, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	remaining, err := l.RemainingTokens(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining, "burst is never reported as remaining")

	require.NoError(t, l.AddTokens(ctx, "user-1", 1, 0))
	allowed, err = l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestWindowExpiry(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t, singleLimit(100, 1000*time.Millisecond))

	require.NoError(t, l.AddTokens(ctx, "user-1", 40, 0))

	clock.Advance(999 * time.Millisecond)
	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), stats.TokensUsed)

	clock.Advance(2 * time.Millisecond)
	stats, err = l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TokensUsed)

	remaining, err := l.RemainingTokens(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), remaining)
}

func TestMultipleLimits(t *testing.T) {
	ctx := context.Background()
	cfg := models.QuotaConfig{Limits: []models.LimitSpec{
		{Tokens: 1000, Window: time.Hour},
		{Tokens: 100, Window: time.Minute},
	}}
	l, clock := newTestLimiter(t, cfg)

	require.NoError(t, l.AddTokens(ctx, "user-1", 100, 0))
	allowed, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed, "per-minute limit rejects")

	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), stats.Remaining, "stats follow the primary limit")

	clock.Advance(61 * time.Second)
	allowed, err = l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestThresholds_FireInOrderOnce(t *testing.T) {
	ctx := context.Background()
	var fired []float64
	cfg := singleLimit(100, time.Hour)
	cfg.OnThreshold = func(identity string, percent float64) {
		assert.Equal(t, "user-1", identity)
		fired = append(fired, percent)
	}
	l, _ := newTestLimiter(t, cfg)

	require.NoError(t, l.AddTokens(ctx, "user-1", 85, 0))
	assert.Equal(t, []float64{80}, fired)

	require.NoError(t, l.AddTokens(ctx, "user-1", 1, 0))
	assert.Equal(t, []float64{80}, fired)

	require.NoError(t, l.AddTokens(ctx, "user-1", 14, 0))
	assert.Equal(t, []float64{80, 90, 100}, fired)

	require.NoError(t, l.AddTokens(ctx, "user-1", 50, 0))
	assert.Equal(t, []float64{80, 90, 100}, fired)
}

func TestThresholds_ResetClearsMemory(t *testing.T) {
	ctx := context.Background()
	var fired []float64
	cfg := singleLimit(100, time.Hour)
	cfg.OnThreshold = func(_ string, percent float64) { fired = append(fired, percent) }
	l, _ := newTestLimiter(t, cfg)

	require.NoError(t, l.AddTokens(ctx, "user-1", 85, 0))
	require.NoError(t, l.Reset(ctx, "user-1"))
	require.NoError(t, l.AddTokens(ctx, "user-1", 85, 0))

	assert.Equal(t, []float64{80, 80}, fired)
}

func TestThresholds_PersistedAcrossLimiters(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemoryStore()
	var fired []float64
	cfg := singleLimit(100, time.Hour)
	cfg.OnThreshold = func(_ string, percent float64) { fired = append(fired, percent) }

	first, clock := newTestLimiter(t, cfg, WithStore(shared))
	require.NoError(t, first.AddTokens(ctx, "user-1", 85, 0))

	second, err := New(cfg, WithStore(shared), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, second.AddTokens(ctx, "user-1", 1, 0))

	assert.Equal(t, []float64{80}, fired)
}

func TestThresholds_PanickingCallbackIsContained(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.WithOutput(&buf), logging.WithLevel(logging.LevelDebug))

	var fired []float64
	cfg := singleLimit(100, time.Hour)
	cfg.OnThreshold = func(_ string, percent float64) {
		fired = append(fired, percent)
		if percent == 80 {
			panic("callback failure")
		}
	}
	l, _ := newTestLimiter(t, cfg, WithLogger(logger))

	require.NoError(t, l.AddTokens(ctx, "user-1", 95, 0))
	assert.Equal(t, []float64{80, 90}, fired)
	assert.Contains(t, buf.String(), "threshold callback panicked")

	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(95), stats.TokensUsed)
}

func TestThresholds_NotFiredWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("disk full")
	s := newCountingStore()
	s.saveErr = boom

	called := false
	cfg := singleLimit(100, time.Hour)
	cfg.OnThreshold = func(string, float64) { called = true }
	l, _ := newTestLimiter(t, cfg, WithStore(s))

	err := l.AddTokens(ctx, "user-1", 100, 0)
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestValidation_NeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	s := newCountingStore()
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour), WithStore(s))

	var invalid *errors.ErrInvalidInput

	err := l.AddTokens(ctx, "user-1", -1, 0)
	require.True(t, stderrors.As(err, &invalid))
	assert.Equal(t, "tokens", invalid.Field)

	err = l.AddTokens(ctx, "user-1", 1, -0.5)
	require.True(t, stderrors.As(err, &invalid))
	assert.Equal(t, "cost", invalid.Field)

	_, err = l.Check(ctx, "")
	require.True(t, stderrors.As(err, &invalid))
	assert.Equal(t, "identity", invalid.Field)

	_, err = l.Stats(ctx, "   ")
	assert.Error(t, err)
	_, err = l.RemainingTokens(ctx, "")
	assert.Error(t, err)
	assert.Error(t, l.Reset(ctx, ""))
	assert.Error(t, l.AddTokens(ctx, "", 1, 0))

	assert.Equal(t, 0, s.calls())
}

func TestOneLoadOneSavePerCall(t *testing.T) {
	ctx := context.Background()
	s := newCountingStore()
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour), WithStore(s))

	require.NoError(t, l.AddTokens(ctx, "user-1", 10, 0))
	assert.Equal(t, 1, s.loads)
	assert.Equal(t, 1, s.saves)

	_, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	_, err = l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, s.loads)
	assert.Equal(t, 1, s.saves, "reads never write")

	require.NoError(t, l.Reset(ctx, "user-1"))
	assert.Equal(t, 1, s.deletes)
}

func TestReadsDoNotCreateLedgers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour), WithStore(s))

	_, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	_, err = l.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, memoryStoreLen(t, s))
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("connection reset")
	s := newCountingStore()
	s.loadErr = boom
	l, _ := newTestLimiter(t, singleLimit(100, time.Hour), WithStore(s))

	_, err := l.Check(ctx, "user-1")
	assert.Same(t, boom, err)
	_, err = l.Stats(ctx, "user-1")
	assert.Same(t, boom, err)
	_, err = l.RemainingTokens(ctx, "user-1")
	assert.Same(t, boom, err)
	assert.Same(t, boom, l.AddTokens(ctx, "user-1", 1, 0))
}

func TestCostTracking(t *testing.T) {
	ctx := context.Background()
	ceiling := 1.0
	cfg := singleLimit(1000000, time.Hour)
	cfg.CostCeiling = &ceiling
	l, _ := newTestLimiter(t, cfg)

	require.NoError(t, l.AddTokens(ctx, "user-1", 10, 0.6))
	stats, err := l.Stats(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, stats.CostUsed)
	require.NotNil(t, stats.CostRemaining)
	assert.InDelta(t, 0.6, *stats.CostUsed, 1e-9)
	assert.InDelta(t, 0.4, *stats.CostRemaining, 1e-9)

	require.NoError(t, l.AddTokens(ctx, "user-1", 10, 0.4))
	allowed, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	cs := newCountingStore()
	cfg := models.QuotaConfig{Limits: []models.LimitSpec{
		{Tokens: 100, Window: time.Minute},
		{Tokens: 1000, Window: time.Hour},
	}}
	l, clock := newTestLimiter(t, cfg, WithStore(cs))

	removed, err := l.Compact(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 0, cs.saves)

	require.NoError(t, l.AddTokens(ctx, "user-1", 85, 0))
	clock.Advance(30 * time.Minute)
	require.NoError(t, l.AddTokens(ctx, "user-1", 5, 0))

	removed, err = l.Compact(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, removed, "events inside the widest window are kept")

	clock.Advance(45 * time.Minute)
	savesBefore := cs.saves
	removed, err = l.Compact(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, savesBefore+1, cs.saves)

	ledger, err := cs.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, ledger.Events, 1)
	assert.True(t, ledger.HasFired(80))

	_, err = l.Compact(ctx, " ")
	assert.Error(t, err)
}

// memoryStoreLen reports how many identities s holds.
func memoryStoreLen(t *testing.T, s *store.MemoryStore) int {
	t.Helper()
	ids, err := s.Identities(context.Background())
	require.NoError(t, err)
	return len(ids)
}
