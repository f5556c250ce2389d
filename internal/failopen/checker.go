package failopen

import (
	"context"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
	"github.com/quotaguard/tokenquota/internal/models"
)

// QuotaChecker is the admission surface wrapped by Checker.
type QuotaChecker interface {
	Check(ctx context.Context, identity string) (bool, error)
	Stats(ctx context.Context, identity string) (models.Stats, error)
}

// Checker admits requests when the wrapped checker cannot reach its
// backend. Invalid input is still reported as an error.
type Checker struct {
	inner   QuotaChecker
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewChecker wraps inner. logger and m may be nil.
func NewChecker(inner QuotaChecker, logger *logging.Logger, m *metrics.Metrics) *Checker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Checker{inner: inner, logger: logger, metrics: m}
}

// Check implements QuotaChecker.
func (c *Checker) Check(ctx context.Context, identity string) (bool, error) {
	allowed, err := c.inner.Check(ctx, identity)
	if err == nil {
		return allowed, nil
	}

	if errors.IsInvalidInput(err) || ctx.Err() != nil {
		return false, err
	}

	c.logger.WarnWithContext(ctx, "quota backend unavailable, admitting request",
		"identity", identity,
		"error", err.Error(),
	)
	if c.metrics != nil {
		c.metrics.RecordFailOpen("check")
	}
	return true, nil
}

// Stats implements QuotaChecker.
func (c *Checker) Stats(ctx context.Context, identity string) (models.Stats, error) {
	return c.inner.Stats(ctx, identity)
}
