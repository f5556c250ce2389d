package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/tokenquota/internal/alerts"
)

// AlertMuter is the part of the alert service exposed over HTTP.
type AlertMuter interface {
	Mute(duration time.Duration, reason string)
	Unmute()
	MuteStatus() alerts.MuteState
}

// WithAlertMuter enables the {base}/alerts/mute endpoints.
func WithAlertMuter(m AlertMuter) ServerOption {
	return func(s *Server) { s.muter = m }
}

// MuteRequest silences alerts for Duration, e.g. "30m".
type MuteRequest struct {
	Duration string `json:"duration" binding:"required"`
	Reason   string `json:"reason,omitempty"`
}

// MuteResponse reports the current mute state.
type MuteResponse struct {
	Muted            bool       `json:"muted"`
	Until            *time.Time `json:"until,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

func (s *Server) muteResponse() MuteResponse {
	state := s.muter.MuteStatus()
	if !state.Muted {
		return MuteResponse{}
	}
	until := state.Until
	return MuteResponse{
		Muted:            true,
		Until:            &until,
		Reason:           state.Reason,
		RemainingSeconds: int64(time.Until(until).Seconds()),
	}
}

func (s *Server) handleGetMute(c *gin.Context) {
	c.JSON(http.StatusOK, s.muteResponse())
}

func (s *Server) handleMute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid duration", Message: "duration must be positive, e.g. \"30m\"", Code: http.StatusBadRequest})
		return
	}
	s.muter.Mute(d, req.Reason)
	s.logger.InfoWithContext(c.Request.Context(), "alerts muted", "duration", d.String(), "reason", req.Reason)
	c.JSON(http.StatusOK, s.muteResponse())
}

func (s *Server) handleUnmute(c *gin.Context) {
	s.muter.Unmute()
	s.logger.InfoWithContext(c.Request.Context(), "alerts unmuted")
	c.JSON(http.StatusOK, s.muteResponse())
}
