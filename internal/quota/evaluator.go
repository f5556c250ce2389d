package quota

import (
	"math"
	"time"

	"github.com/quotaguard/tokenquota/internal/models"
)

// IsWithinLimits reports whether every limit still admits usage.
// A limit rejects once tokens reach ceiling*(1+burst/100). When a cost
// ceiling is set, cost over the widest window is checked the same way.
func IsWithinLimits(ledger *models.Ledger, cfg models.QuotaConfig, now time.Time) bool {
	events := liveEvents(ledger, cfg, now)
	mult := cfg.BurstMultiplier()

	for _, l := range cfg.Limits {
		used := WindowUsage(events, l.Window, now)
		if float64(used.Tokens) >= l.Tokens*mult {
			return false
		}
	}

	if cfg.CostCeiling != nil {
		used := WindowUsage(events, MaxWindow(cfg.Limits), now)
		if used.Cost >= *cfg.CostCeiling*mult {
			return false
		}
	}
	return true
}

// RemainingForPrimary returns the primary ceiling minus primary-window usage,
// floored at zero. Burst headroom is not included.
func RemainingForPrimary(ledger *models.Ledger, cfg models.QuotaConfig, now time.Time) int64 {
	primary := cfg.Primary()
	used := WindowUsage(liveEvents(ledger, cfg, now), primary.Window, now)
	return remaining(primary.Tokens, used.Tokens)
}

// ComputeStats builds the primary-window report for a ledger. Cost used and
// cost remaining both cover the primary window.
func ComputeStats(ledger *models.Ledger, cfg models.QuotaConfig, now time.Time) models.Stats {
	primary := cfg.Primary()
	events := liveEvents(ledger, cfg, now)
	used := WindowUsage(events, primary.Window, now)

	stats := models.Stats{
		TokensUsed:  used.Tokens,
		Remaining:   remaining(primary.Tokens, used.Tokens),
		ResetAt:     now.Add(primary.Window),
		PercentUsed: PercentUsed(used.Tokens, primary.Tokens),
	}

	if cfg.CostEnabled() {
		costUsed := used.Cost
		stats.CostUsed = &costUsed
	}
	if cfg.CostCeiling != nil {
		costRemaining := math.Max(0, *cfg.CostCeiling-used.Cost)
		stats.CostRemaining = &costRemaining
	}
	return stats
}

// PercentUsed returns tokens as a percentage of ceiling, clamped to 100.
// A zero ceiling is always fully used.
func PercentUsed(tokens int64, ceiling float64) float64 {
	if ceiling <= 0 {
		return 100
	}
	return math.Min(100, float64(tokens)/ceiling*100)
}

func remaining(ceiling float64, used int64) int64 {
	left := math.Floor(ceiling - float64(used))
	if left <= 0 {
		return 0
	}
	return int64(left)
}

func liveEvents(ledger *models.Ledger, cfg models.QuotaConfig, now time.Time) []models.UsageEvent {
	if ledger == nil {
		return nil
	}
	return Prune(ledger.Events, cfg.Limits, now)
}
