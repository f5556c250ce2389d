package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertType distinguishes a crossed threshold from an exhausted primary limit.
type AlertType string

const (
	AlertTypeThreshold AlertType = "threshold"
	AlertTypeExhausted AlertType = "exhausted"
)

// Alert is one notification about an identity's usage.
type Alert struct {
	ID        string
	Identity  string
	Type      AlertType
	Severity  Severity
	Message   string
	Threshold float64
	Timestamp time.Time
}

// Key identifies the identity, type and threshold of an alert.
func (a *Alert) Key() string {
	return fmt.Sprintf("%s:%s:%g", a.Identity, a.Type, a.Threshold)
}

// SeverityFor maps a threshold percentage to a severity.
func SeverityFor(threshold float64) Severity {
	switch {
	case threshold >= 100:
		return SeverityCritical
	case threshold >= 90:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// NewThresholdAlert builds the alert for a crossed threshold.
func NewThresholdAlert(identity string, threshold float64, at time.Time) Alert {
	alertType := AlertTypeThreshold
	message := fmt.Sprintf("Token usage for %s reached %g%% of the limit.", identity, threshold)
	if threshold >= 100 {
		alertType = AlertTypeExhausted
		message = fmt.Sprintf("Token quota exhausted for %s.", identity)
	}
	return Alert{
		ID:        uuid.NewString(),
		Identity:  identity,
		Type:      alertType,
		Severity:  SeverityFor(threshold),
		Message:   message,
		Threshold: threshold,
		Timestamp: at,
	}
}

// MuteState is the operator-controlled silence applied to every sink.
type MuteState struct {
	Muted  bool
	Until  time.Time
	Reason string
}

func (m *MuteState) IsMuted(now time.Time) bool {
	return m.Muted && now.Before(m.Until)
}

// Remaining is zero once the mute has lapsed.
func (m *MuteState) Remaining(now time.Time) time.Duration {
	if !m.IsMuted(now) {
		return 0
	}
	return m.Until.Sub(now)
}
