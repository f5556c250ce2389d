package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quotaguard/tokenquota/internal/errors"
)

// Defaults used when a limit is configured in the simple single-limit form.
const (
	DefaultTokenLimit = 100000
	DefaultWindow     = time.Hour
)

// DefaultThresholds are the notification percentages used when none are configured.
var DefaultThresholds = []float64{80, 90, 100}

// LimitSpec is a token ceiling over a trailing window.
type LimitSpec struct {
	Tokens float64
	Window time.Duration
}

// ThresholdFunc is invoked once per identity for every crossed threshold.
type ThresholdFunc func(identity string, percent float64)

// QuotaConfig configures the quota engine. The first limit is the primary
// limit used for stats and threshold reporting.
type QuotaConfig struct {
	Limits       []LimitSpec
	BurstPercent float64
	// CostCeiling is nil when no cost ceiling is configured.
	CostCeiling *float64
	TrackCost   bool
	Thresholds  []float64
	OnThreshold ThresholdFunc
}

// Primary returns the first configured limit.
func (c QuotaConfig) Primary() LimitSpec {
	return c.Limits[0]
}

// BurstMultiplier returns 1 + burst/100.
func (c QuotaConfig) BurstMultiplier() float64 {
	return 1 + c.BurstPercent/100
}

// CostEnabled reports whether cost is computed and reported.
func (c QuotaConfig) CostEnabled() bool {
	return c.TrackCost || c.CostCeiling != nil
}

// Validate checks the configuration without modifying it.
func (c QuotaConfig) Validate() error {
	if len(c.Limits) == 0 {
		return &errors.ErrInvalidInput{Field: "limits", Reason: "at least one limit is required"}
	}
	for i, l := range c.Limits {
		if l.Tokens < 0 || math.IsNaN(l.Tokens) {
			return &errors.ErrInvalidInput{Field: fmt.Sprintf("limits[%d].tokens", i), Reason: "must be non-negative"}
		}
		if l.Window < 0 {
			return &errors.ErrInvalidInput{Field: fmt.Sprintf("limits[%d].window", i), Reason: "must be non-negative"}
		}
	}
	if c.BurstPercent < 0 || math.IsNaN(c.BurstPercent) {
		return &errors.ErrInvalidInput{Field: "burst_percent", Reason: "must be non-negative"}
	}
	if c.CostCeiling != nil && (*c.CostCeiling < 0 || math.IsNaN(*c.CostCeiling)) {
		return &errors.ErrInvalidInput{Field: "cost_ceiling", Reason: "must be non-negative"}
	}
	for _, t := range c.Thresholds {
		if t < 0 || t > 100 || math.IsNaN(t) {
			return &errors.ErrInvalidInput{Field: "thresholds", Reason: "percentages must be between 0 and 100"}
		}
	}
	return nil
}

// Normalize returns a copy with default thresholds applied and thresholds
// sorted ascending without duplicates. Limits are copied so later changes to
// the caller's slice do not leak in.
func (c QuotaConfig) Normalize() QuotaConfig {
	out := c
	out.Limits = append([]LimitSpec(nil), c.Limits...)

	src := c.Thresholds
	if src == nil {
		src = DefaultThresholds
	}
	thresholds := append(make([]float64, 0, len(src)), src...)
	sort.Float64s(thresholds)
	deduped := thresholds[:0]
	for i, t := range thresholds {
		if i > 0 && t == thresholds[i-1] {
			continue
		}
		deduped = append(deduped, t)
	}
	out.Thresholds = deduped

	if c.CostCeiling != nil {
		v := *c.CostCeiling
		out.CostCeiling = &v
	}
	return out
}
