// Package limiter is the entry point for per-identity token quotas. It loads
// a ledger from the configured store, evaluates it with the quota package and
// persists the result.
package limiter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/pricing"
	"github.com/quotaguard/tokenquota/internal/quota"
	"github.com/quotaguard/tokenquota/internal/store"
)

// Limiter tracks token usage per identity against the configured limits.
// It holds no per-identity state in memory: every call performs at most one
// load and one save against the store. Concurrent writers for the same
// identity may lose updates.
type Limiter struct {
	cfg     models.QuotaConfig
	store   store.Store
	metrics *metrics.Metrics
	logger  *logging.Logger
	pricing pricing.Table
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore sets the ledger store (default: in-memory).
func WithStore(s store.Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithLogger sets the logger (default: discard).
func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPricing sets the price table used by Wrap (default: pricing.Default()).
func WithPricing(t pricing.Table) Option {
	return func(l *Limiter) { l.pricing = t }
}

// New validates cfg and builds a Limiter.
func New(cfg models.QuotaConfig, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg:     cfg.Normalize(),
		store:   store.NewMemoryStore(),
		logger:  logging.Nop(),
		pricing: pricing.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		return nil, &errors.ErrInvalidInput{Field: "store", Reason: "must not be nil"}
	}
	return l, nil
}

// Config returns a copy of the normalized configuration.
func (l *Limiter) Config() models.QuotaConfig {
	return l.cfg.Normalize()
}

// Store returns the underlying ledger store.
func (l *Limiter) Store() store.Store {
	return l.store
}

// Pricing returns the price table used for cost estimates.
func (l *Limiter) Pricing() pricing.Table {
	return l.pricing
}

// Check reports whether identity is under every configured limit.
func (l *Limiter) Check(ctx context.Context, identity string) (bool, error) {
	if err := validateIdentity(identity); err != nil {
		return false, err
	}
	ledger, err := l.load(ctx, identity)
	if err != nil {
		return false, err
	}

	allowed := quota.IsWithinLimits(ledger, l.cfg, l.now())
	if l.metrics != nil {
		l.metrics.RecordQuotaCheck(allowed)
	}
	return allowed, nil
}

// Stats returns the primary-window report for identity.
func (l *Limiter) Stats(ctx context.Context, identity string) (models.Stats, error) {
	if err := validateIdentity(identity); err != nil {
		return models.Stats{}, err
	}
	ledger, err := l.load(ctx, identity)
	if err != nil {
		return models.Stats{}, err
	}

	stats := quota.ComputeStats(ledger, l.cfg, l.now())
	if l.metrics != nil {
		l.metrics.SetQuotaUtilization(identity, stats.PercentUsed)
	}
	return stats, nil
}

// RemainingTokens returns the tokens left under the primary limit, excluding burst.
func (l *Limiter) RemainingTokens(ctx context.Context, identity string) (int64, error) {
	if err := validateIdentity(identity); err != nil {
		return 0, err
	}
	ledger, err := l.load(ctx, identity)
	if err != nil {
		return 0, err
	}
	return quota.RemainingForPrimary(ledger, l.cfg, l.now()), nil
}

// AddTokens records usage for identity. Newly crossed thresholds are
// persisted with the ledger and then reported to OnThreshold in ascending
// order.
func (l *Limiter) AddTokens(ctx context.Context, identity string, tokens int64, cost float64) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	if tokens < 0 {
		return &errors.ErrInvalidInput{Field: "tokens", Reason: "must be non-negative"}
	}
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return &errors.ErrInvalidInput{Field: "cost", Reason: "must be a non-negative number"}
	}

	ledger, err := l.load(ctx, identity)
	if err != nil {
		return err
	}
	if ledger == nil {
		ledger = models.NewLedger()
	}

	now := l.now()
	ledger.Events = quota.Prune(ledger.Events, l.cfg.Limits, now)
	ledger.Append(models.UsageEvent{Tokens: tokens, Cost: cost, Timestamp: now})
	fired := quota.CrossThresholds(ledger, l.cfg, now)

	if err := l.save(ctx, identity, ledger); err != nil {
		return err
	}

	if l.metrics != nil {
		l.metrics.RecordUsage(tokens, cost)
	}
	l.logger.DebugWithContext(ctx, "usage recorded",
		"identity", identity,
		"tokens", tokens,
		"cost", cost,
	)

	for _, t := range fired {
		l.notify(ctx, identity, t)
	}
	return nil
}

// Reset deletes the ledger for identity, including fired-threshold memory.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	if err := l.delete(ctx, identity); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.DeleteQuotaUtilization(identity)
	}
	l.logger.InfoWithContext(ctx, "quota reset", "identity", identity)
	return nil
}

// Compact drops events that no configured window can still see and returns
// how many were removed. Fired thresholds are kept. Absent ledgers are left
// absent and unchanged ledgers are not rewritten.
func (l *Limiter) Compact(ctx context.Context, identity string) (int, error) {
	if err := validateIdentity(identity); err != nil {
		return 0, err
	}
	ledger, err := l.load(ctx, identity)
	if err != nil || ledger == nil {
		return 0, err
	}

	kept := quota.Prune(ledger.Events, l.cfg.Limits, l.now())
	removed := len(ledger.Events) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	ledger.Events = kept
	if err := l.save(ctx, identity, ledger); err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *Limiter) notify(ctx context.Context, identity string, threshold float64) {
	if l.metrics != nil {
		l.metrics.RecordThreshold(threshold)
	}
	l.logger.InfoWithContext(ctx, "threshold crossed",
		"identity", identity,
		"threshold", threshold,
	)
	if l.cfg.OnThreshold == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorWithContext(ctx, "threshold callback panicked",
				"identity", identity,
				"threshold", threshold,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	l.cfg.OnThreshold(identity, threshold)
}

func (l *Limiter) load(ctx context.Context, identity string) (*models.Ledger, error) {
	start := time.Now()
	ledger, err := l.store.Load(ctx, identity)
	l.observe(ctx, "load", identity, start, err)
	return ledger, err
}

func (l *Limiter) save(ctx context.Context, identity string, ledger *models.Ledger) error {
	start := time.Now()
	err := l.store.Save(ctx, identity, ledger)
	l.observe(ctx, "save", identity, start, err)
	return err
}

func (l *Limiter) delete(ctx context.Context, identity string) error {
	start := time.Now()
	err := l.store.Delete(ctx, identity)
	l.observe(ctx, "delete", identity, start, err)
	return err
}

func (l *Limiter) observe(ctx context.Context, op, identity string, start time.Time, err error) {
	if l.metrics != nil {
		l.metrics.RecordStoreOperation(op, err, time.Since(start).Seconds())
	}
	if err != nil {
		l.logger.ErrorWithContext(ctx, "store operation failed",
			"operation", op,
			"identity", identity,
			"error", err.Error(),
		)
	}
}

func validateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return &errors.ErrInvalidInput{Field: "identity", Reason: "must not be blank"}
	}
	return nil
}
