package quota

import (
	"time"

	"github.com/quotaguard/tokenquota/internal/models"
)

// CrossThresholds marks every configured threshold that primary-window usage
// has reached and that has not fired before. The newly fired thresholds are
// returned in ascending order; the ledger is updated in place.
func CrossThresholds(ledger *models.Ledger, cfg models.QuotaConfig, now time.Time) []float64 {
	if ledger == nil || len(cfg.Thresholds) == 0 {
		return nil
	}

	primary := cfg.Primary()
	used := WindowUsage(ledger.Events, primary.Window, now)
	percent := PercentUsed(used.Tokens, primary.Tokens)

	var fired []float64
	for _, t := range cfg.Thresholds {
		if percent < t || ledger.HasFired(t) {
			continue
		}
		ledger.MarkFired(t)
		fired = append(fired, t)
	}
	return fired
}
