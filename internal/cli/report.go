package cli

import (
	"fmt"
	"time"

	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/limiter"
	"github.com/quotaguard/tokenquota/internal/store"
	"github.com/quotaguard/tokenquota/internal/telegram"
	"github.com/spf13/cobra"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send a usage report to Telegram",
	Long: `Send the usage of every stored identity, highest first, to the
configured Telegram chat. Requires telegram.enabled, bot_token and chat_id.

Example:
  tokenquota report --top 20`,
	RunE: runReport,
}

var reportFlags struct {
	Top    int
	DryRun bool
}

func init() {
	reportCmd.Flags().IntVar(&reportFlags.Top, "top", 10, "Number of identities to include (0 for all)")
	reportCmd.Flags().BoolVar(&reportFlags.DryRun, "dry-run", false, "Print the report instead of sending it")
	RootCmd.AddCommand(reportCmd)
}

// newTelegramBot builds a bot from configuration. It returns nil when
// Telegram is disabled.
func newTelegramBot(cfg config.TelegramConfig) (*telegram.Bot, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := telegram.NewClient(cfg.BotToken, telegram.ClientOptions{
		Endpoint: cfg.APIEndpoint,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	return telegram.NewBot(cfg.ChatID, telegram.Options{
		API:               client,
		MessagesPerMinute: cfg.RateLimit.MessagesPerMinute,
		DedupWindow:       cfg.DedupWindow,
	}), nil
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withLimiter(ctx, func(cfg *config.Config, l *limiter.Limiter, st ledgerStore) error {
		lister, ok := st.(store.Lister)
		if !ok {
			return fmt.Errorf("storage backend cannot list identities")
		}
		ids, err := lister.Identities(ctx)
		if err != nil {
			return err
		}

		rows := make([]IdentityStats, 0, len(ids))
		for _, id := range ids {
			s, err := l.Stats(ctx, id)
			if err != nil {
				return err
			}
			rows = append(rows, IdentityStats{Identity: id, Stats: s})
		}
		sortByPercent(rows)
		if reportFlags.Top > 0 && len(rows) > reportFlags.Top {
			rows = rows[:reportFlags.Top]
		}

		if reportFlags.DryRun {
			return outputStatsTable(cmd.OutOrStdout(), rows)
		}

		bot, err := newTelegramBot(cfg.Telegram)
		if err != nil {
			return err
		}
		if bot == nil {
			return fmt.Errorf("telegram is not enabled in %s", globalFlags.Config)
		}

		if err := bot.SendUsageReport(ctx, usageLines(rows), time.Now()); err != nil {
			return fmt.Errorf("failed to send report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent usage report for %d identities\n", len(rows))
		return nil
	})
}

func usageLines(rows []IdentityStats) []telegram.UsageLine {
	lines := make([]telegram.UsageLine, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, telegram.UsageLine{
			Identity:    r.Identity,
			TokensUsed:  r.TokensUsed,
			Remaining:   r.Remaining,
			PercentUsed: r.PercentUsed,
			ResetAt:     r.ResetAt,
		})
	}
	return lines
}
