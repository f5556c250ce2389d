// Package middleware adapts the limiter to HTTP frameworks. Requests whose
// identity is over quota are answered with 429 before reaching the handler.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/models"
)

// Checker is the subset of the limiter used by the adapters.
type Checker interface {
	Check(ctx context.Context, identity string) (bool, error)
	Stats(ctx context.Context, identity string) (models.Stats, error)
}

// Rejection is the 429 response body.
type Rejection struct {
	Error      string    `json:"error"`
	ResetAt    time.Time `json:"resetAt"`
	TokensUsed int64     `json:"tokensUsed"`
}

// ErrorBody is returned when the identity is malformed or the quota backend
// cannot be reached.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

const rejectionMessage = "rate limit exceeded"

// Evaluate checks identity and returns a Rejection when it is over quota.
// An empty identity is never limited.
func Evaluate(ctx context.Context, c Checker, identity string) (*Rejection, error) {
	if identity == "" {
		return nil, nil
	}
	allowed, err := c.Check(ctx, identity)
	if err != nil {
		return nil, err
	}
	if allowed {
		return nil, nil
	}
	stats, err := c.Stats(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &Rejection{
		Error:      rejectionMessage,
		ResetAt:    stats.ResetAt,
		TokensUsed: stats.TokensUsed,
	}, nil
}

type options struct {
	logger *logging.Logger
}

// Option configures an adapter.
type Option func(*options)

// WithLogger logs backend failures.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// failure maps invalid input to 400 and backend errors to 503.
func (o options) failure(ctx context.Context, err error) (int, ErrorBody) {
	if errors.IsInvalidInput(err) {
		return http.StatusBadRequest, ErrorBody{Error: "invalid input", Message: err.Error()}
	}
	o.logger.ErrorWithContext(ctx, "quota check failed", "error", err)
	return http.StatusServiceUnavailable, ErrorBody{Error: "quota backend unavailable"}
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Gin returns a gin middleware limiting requests by the identity that
// identify extracts.
func Gin(c Checker, identify func(*gin.Context) string, opts ...Option) gin.HandlerFunc {
	o := buildOptions(opts)
	return func(ctx *gin.Context) {
		identity := identify(ctx)
		ctx.Request = ctx.Request.WithContext(logging.WithIdentity(ctx.Request.Context(), identity))
		rejection, err := Evaluate(ctx.Request.Context(), c, identity)
		if err != nil {
			_ = ctx.Error(err)
			ctx.AbortWithStatusJSON(o.failure(ctx.Request.Context(), err))
			return
		}
		if rejection != nil {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, rejection)
			return
		}
		ctx.Next()
	}
}

// GinHeader extracts the identity from a request header.
func GinHeader(name string) func(*gin.Context) string {
	return func(c *gin.Context) string { return c.GetHeader(name) }
}

// HTTP returns net/http middleware, usable with chi's Use, limiting requests
// by the identity that identify extracts.
func HTTP(c Checker, identify func(*http.Request) string, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := identify(r)
			r = r.WithContext(logging.WithIdentity(r.Context(), identity))
			rejection, err := Evaluate(r.Context(), c, identity)
			if err != nil {
				status, body := o.failure(r.Context(), err)
				writeJSON(w, status, body)
				return
			}
			if rejection != nil {
				writeJSON(w, http.StatusTooManyRequests, rejection)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Header extracts the identity from a request header.
func Header(name string) func(*http.Request) string {
	return func(r *http.Request) string { return r.Header.Get(name) }
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
