package limiter

import (
	"context"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/usage"
)

type wrapOptions struct {
	throwOnLimit bool
	model        string
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapOptions)

// WithThrowOnLimit makes Wrap fail with *errors.ErrQuotaExceeded instead of
// calling fn when the identity is over quota.
func WithThrowOnLimit() WrapOption {
	return func(o *wrapOptions) { o.throwOnLimit = true }
}

// WithModel names the model used to price the call.
func WithModel(name string) WrapOption {
	return func(o *wrapOptions) { o.model = name }
}

// Wrap runs fn on behalf of identity and records the tokens reported in its
// result. Without WithThrowOnLimit, fn runs even when the identity is over
// quota. An error from fn is returned unchanged and nothing is recorded.
// Results without a recognizable usage block are returned without recording.
func Wrap[T any](ctx context.Context, l *Limiter, identity string, fn func(context.Context) (T, error), opts ...WrapOption) (T, error) {
	var o wrapOptions
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	allowed, err := l.Check(ctx, identity)
	if err != nil {
		return zero, err
	}
	if !allowed && o.throwOnLimit {
		return zero, &errors.ErrQuotaExceeded{Identity: identity}
	}

	result, err := fn(ctx)
	if err != nil {
		return result, err
	}

	tokens := usage.Extract(result)
	total := tokens.Total()
	if total <= 0 {
		return result, nil
	}

	var cost float64
	if l.cfg.CostEnabled() {
		cost = l.pricing.Cost(o.model, tokens.Input, tokens.Output)
	}
	if err := l.AddTokens(ctx, identity, total, cost); err != nil {
		return result, err
	}
	return result, nil
}
