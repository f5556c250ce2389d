package api

import (
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/store"
	"github.com/quotaguard/tokenquota/internal/usage"
)

// UsageRequest records consumption for an identity. Tokens takes precedence;
// otherwise the total comes from Response (a provider response body) or from
// the explicit input and output counts. Cost is estimated from Model when it
// is not given and cost tracking is enabled.
type UsageRequest struct {
	Tokens       *int64          `json:"tokens,omitempty"`
	Cost         *float64        `json:"cost,omitempty"`
	Model        string          `json:"model,omitempty"`
	InputTokens  int64           `json:"input_tokens,omitempty"`
	OutputTokens int64           `json:"output_tokens,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
}

// UsageResponse reports what was recorded and the resulting stats.
type UsageResponse struct {
	Identity string       `json:"identity"`
	Recorded bool         `json:"recorded"`
	Tokens   int64        `json:"tokens"`
	Cost     float64      `json:"cost"`
	Stats    models.Stats `json:"stats"`
}

// IdentityStats pairs an identity with its stats.
type IdentityStats struct {
	Identity string `json:"identity"`
	models.Stats
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"time":           time.Now().UTC(),
	})
}

func (s *Server) handleListQuotas(c *gin.Context) {
	l := s.limiters.Get()
	lister, ok := l.Store().(store.Lister)
	if !ok {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error: "storage backend cannot list identities",
			Code:  http.StatusNotImplemented,
		})
		return
	}

	ctx := c.Request.Context()
	ids, err := lister.Identities(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]IdentityStats, 0, len(ids))
	for _, id := range ids {
		stats, err := l.Stats(ctx, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		out = append(out, IdentityStats{Identity: id, Stats: stats})
	}
	c.JSON(http.StatusOK, gin.H{"quotas": out})
}

func (s *Server) handleGetStats(c *gin.Context) {
	stats, err := s.limiters.Get().Stats(c.Request.Context(), c.Param("identity"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCheck(c *gin.Context) {
	identity := c.Param("identity")
	allowed, err := s.checker.Check(c.Request.Context(), identity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "allowed": allowed})
}

func (s *Server) handleRemaining(c *gin.Context) {
	identity := c.Param("identity")
	remaining, err := s.limiters.Get().RemainingTokens(c.Request.Context(), identity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "remaining": remaining})
}

func (s *Server) handleRecordUsage(c *gin.Context) {
	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		s.fail(c, &errors.ErrInvalidInput{Field: "input_tokens/output_tokens", Reason: "must be non-negative"})
		return
	}

	ctx := c.Request.Context()
	identity := c.Param("identity")
	l := s.limiters.Get()
	cfg := l.Config()

	resp := UsageResponse{Identity: identity}
	if req.Tokens != nil {
		resp.Tokens = *req.Tokens
		resp.Recorded = true
		if req.Cost != nil {
			resp.Cost = *req.Cost
		}
	} else {
		tokens := usage.Tokens{Input: req.InputTokens, Output: req.OutputTokens}
		if len(req.Response) > 0 {
			tokens = usage.Extract(req.Response)
		}
		resp.Tokens = tokens.Total()
		resp.Recorded = resp.Tokens > 0
		switch {
		case req.Cost != nil:
			resp.Cost = *req.Cost
		case cfg.CostEnabled():
			resp.Cost = l.Pricing().Cost(req.Model, tokens.Input, tokens.Output)
		}
	}

	if resp.Recorded {
		if err := l.AddTokens(ctx, identity, resp.Tokens, resp.Cost); err != nil {
			s.fail(c, err)
			return
		}
	}

	stats, err := l.Stats(ctx, identity)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp.Stats = stats
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReset(c *gin.Context) {
	identity := c.Param("identity")
	if err := s.limiters.Get().Reset(c.Request.Context(), identity); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "status": "reset"})
}

// fail maps invalid input to 400 and everything else to 503.
func (s *Server) fail(c *gin.Context, err error) {
	var invalid *errors.ErrInvalidInput
	if stderrors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid input", Message: invalid.Error(), Code: http.StatusBadRequest})
		return
	}

	s.logger.ErrorWithContext(c.Request.Context(), "quota operation failed",
		"path", c.FullPath(),
		"error", err,
	)
	if unavailable, ok := errors.IsUnavailable(err); ok && unavailable.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(unavailable.RetryAfter.Seconds()))))
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "quota backend unavailable", Code: http.StatusServiceUnavailable})
}
