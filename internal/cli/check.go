package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"text/tabwriter"
	"time"

	"github.com/quotaguard/tokenquota/internal/cleanup"
	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/quota"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "doctor"},
	Short:   "Validate configuration and storage connectivity",
	Long: `Perform a health check of a tokenquota deployment.

This command checks:
- Configuration validity
- Quota limits
- Storage backend connectivity
- Cleanup schedule
- Telegram settings

Example:
  tokenquota check --config /etc/tokenquota/config.yaml`,
	RunE: runCheck,
}

var checkFlags struct {
	Timeout time.Duration
}

func init() {
	checkCmd.Flags().DurationVar(&checkFlags.Timeout, "timeout", 10*time.Second, "Storage connection timeout")
	RootCmd.AddCommand(checkCmd)
}

var errHealthCheckFailed = errors.New("health check failed")

// Check statuses.
const (
	StatusOK      = "OK"
	StatusWarning = "WARNING"
	StatusFail    = "FAIL"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		fmt.Fprintln(cmd.ErrOrStderr(), "Starting health check...")
	}

	cfg, result := checkConfig(globalFlags.Config)
	results := []CheckResult{result}
	if cfg != nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), checkFlags.Timeout)
		defer cancel()

		results = append(results,
			checkQuota(cfg.Quota),
			checkStorage(ctx, cfg.Storage, quota.MaxWindow(cfg.Quota.ToQuotaConfig().Limits)),
			checkCleanup(cfg.Cleanup),
			checkTelegram(cfg.Telegram),
		)
	}

	return outputCheckResults(cmd.OutOrStdout(), results)
}

func checkConfig(path string) (*config.Config, CheckResult) {
	result := CheckResult{
		Name:   "Configuration",
		Status: StatusOK,
	}

	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Failed to load configuration: %v", err)
		return nil, result
	}

	result.Message = fmt.Sprintf("Configuration valid (version: %s)", cfg.Version)
	result.Details = fmt.Sprintf("Server: %s, Storage: %s", cfg.Server.Addr(), cfg.Storage.Backend)
	return cfg, result
}

func checkQuota(q config.QuotaSection) CheckResult {
	result := CheckResult{
		Name:   "Quota",
		Status: StatusOK,
	}

	qc := q.ToQuotaConfig()
	if err := qc.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	qc = qc.Normalize()
	primary := qc.Primary()
	result.Message = fmt.Sprintf("%d limit(s), primary %.0f tokens per %s", len(qc.Limits), primary.Tokens, primary.Window)
	if primary.Tokens == 0 {
		result.Status = StatusWarning
		result.Message = "Primary limit is zero; every request will be rejected"
	}
	result.Details = fmt.Sprintf("Thresholds: %v, Burst: %.0f%%", qc.Thresholds, qc.BurstPercent)
	if qc.CostCeiling != nil {
		result.Details += fmt.Sprintf(", Cost ceiling: $%.2f", *qc.CostCeiling)
	}
	return result
}

func checkStorage(ctx context.Context, cfg config.StorageConfig, widest time.Duration) CheckResult {
	result := CheckResult{
		Name:   "Storage",
		Status: StatusOK,
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Failed to connect to %s storage: %v", cfg.Backend, err)
		return result
	}
	defer st.Close()

	if _, err := st.Load(ctx, "tokenquota-check"); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Storage read failed: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%s storage reachable", cfg.Backend)
	switch cfg.Backend {
	case config.BackendMemory:
		result.Status = StatusWarning
		result.Message = "memory storage does not survive restarts"
	case config.BackendSQLite:
		result.Details = "Path: " + cfg.SQLite.Path
	case config.BackendRedis:
		result.Details = "Addr: " + cfg.Redis.Addr
		if cfg.Redis.TTL > 0 && cfg.Redis.TTL < widest {
			result.Status = StatusWarning
			result.Details += fmt.Sprintf(", TTL %s may expire ledgers before their window ends", cfg.Redis.TTL)
		}
	}
	return result
}

func checkCleanup(cfg config.CleanupConfig) CheckResult {
	result := CheckResult{
		Name:   "Cleanup",
		Status: StatusOK,
	}
	if !cfg.Enabled {
		result.Status = StatusWarning
		result.Message = "Scheduled compaction disabled; ledgers grow until read"
		return result
	}
	if _, err := cleanup.NewManager(cleanup.Config{Schedule: cfg.Schedule}, nil, nil); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Message = "Compaction scheduled"
	result.Details = "Schedule: " + cfg.Schedule
	return result
}

func checkTelegram(cfg config.TelegramConfig) CheckResult {
	result := CheckResult{
		Name:   "Telegram",
		Status: StatusOK,
	}
	if !cfg.Enabled {
		result.Message = "Disabled"
		return result
	}
	result.Message = "Enabled"
	result.Details = fmt.Sprintf("Chat: %d, %d messages/min", cfg.ChatID, cfg.RateLimit.MessagesPerMinute)
	return result
}

func outputCheckResults(out io.Writer, results []CheckResult) error {
	if globalFlags.JSON {
		if err := writeJSON(out, results); err != nil {
			return err
		}
		if failed(results) {
			return errHealthCheckFailed
		}
		return nil
	}
	return outputCheckResultsTable(out, results)
}

func failed(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

func outputCheckResultsTable(out io.Writer, results []CheckResult) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE\tDETAILS")

	for _, r := range results {
		statusIcon := "✓"
		if r.Status == StatusFail {
			statusIcon = "✗"
		} else if r.Status == StatusWarning {
			statusIcon = "!"
		}

		details := r.Details
		if details == "" {
			details = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.Name,
			statusIcon+" "+r.Status,
			r.Message,
			details,
		)
	}

	if err := w.Flush(); err != nil {
		log.Printf("Error flushing tabwriter: %v", err)
	}

	fmt.Fprintln(out)
	if failed(results) {
		fmt.Fprintln(out, "✗ Some checks failed. Please review the output above.")
		return errHealthCheckFailed
	}
	fmt.Fprintln(out, "✓ All checks passed!")
	return nil
}
