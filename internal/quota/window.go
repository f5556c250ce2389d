// Package quota holds the sliding-window accounting used by the limiter.
// Every function here is pure: the same ledger, config and instant always
// produce the same result, and inputs are never modified.
package quota

import (
	"time"

	"github.com/quotaguard/tokenquota/internal/models"
)

// Usage is the token and cost total observed inside a window.
type Usage struct {
	Tokens int64
	Cost   float64
}

// WindowUsage sums the events whose timestamp is at or after now-window.
// The boundary is inclusive.
func WindowUsage(events []models.UsageEvent, window time.Duration, now time.Time) Usage {
	var u Usage
	cutoff := now.Add(-window)
	for _, e := range events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		u.Tokens += e.Tokens
		u.Cost += e.Cost
	}
	return u
}

// MaxWindow returns the widest window across limits.
func MaxWindow(limits []models.LimitSpec) time.Duration {
	var widest time.Duration
	for _, l := range limits {
		if l.Window > widest {
			widest = l.Window
		}
	}
	return widest
}

// Prune returns a fresh slice without the events no limit can still see.
func Prune(events []models.UsageEvent, limits []models.LimitSpec, now time.Time) []models.UsageEvent {
	cutoff := now.Add(-MaxWindow(limits))
	out := make([]models.UsageEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}
