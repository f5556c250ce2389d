package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/quotaguard/tokenquota/internal/cleanup"
	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/limiter"
	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/store"
	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:     "stats [identity...]",
	Aliases: []string{"quotas", "q"},
	Short:   "Show usage for one or all identities",
	Long: `Display primary-window usage for the given identities, or for every
identity in the configured store when none are given.

The memory backend starts empty, so this is only useful with sqlite,
redis or postgres storage.

Examples:
  # Show all identities
  tokenquota stats

  # Show a single identity as JSON
  tokenquota stats user-42 --json | jq '.'

  # Show only identities at or above 90% usage
  tokenquota stats --min-percent 90`,
	RunE: runStats,
}

var statsFlags struct {
	MinPercent float64
}

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add <identity> [tokens]",
	Short: "Record token usage for an identity",
	Long: `Record usage for an identity. Either pass a token count, or pass
--input and --output counts with --model to price the request from the
pricing table.

Examples:
  tokenquota add user-42 1500
  tokenquota add user-42 --model gpt-4o --input 1200 --output 300`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAdd,
}

var addFlags struct {
	Model  string
	Input  int64
	Output int64
	Cost   float64
}

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Clear an identity's usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

// compactCmd represents the compact command
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Prune events outside every window",
	Long: `Run one compaction pass over every stored identity. Events older
than the widest configured window are removed; fired thresholds are kept.`,
	RunE: runCompact,
}

var compactFlags struct {
	Vacuum bool
}

// pricingCmd represents the pricing command
var pricingCmd = &cobra.Command{
	Use:   "pricing [model]",
	Short: "Show the model pricing table",
	Long: `List per-1K-token prices, including overrides from the configuration
file. With a model name, show which entry the model resolves to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPricing,
}

func init() {
	statsCmd.Flags().Float64Var(&statsFlags.MinPercent, "min-percent", 0, "Show only identities at or above this usage percentage")

	addCmd.Flags().StringVar(&addFlags.Model, "model", "", "Model name used for pricing")
	addCmd.Flags().Int64Var(&addFlags.Input, "input", 0, "Input tokens")
	addCmd.Flags().Int64Var(&addFlags.Output, "output", 0, "Output tokens")
	addCmd.Flags().Float64Var(&addFlags.Cost, "cost", -1, "Explicit cost in USD (overrides pricing)")

	compactCmd.Flags().BoolVar(&compactFlags.Vacuum, "vacuum", false, "Reclaim space afterwards (sqlite only)")

	RootCmd.AddCommand(statsCmd, addCmd, resetCmd, compactCmd, pricingCmd)
}

// IdentityStats is one row of stats output.
type IdentityStats struct {
	Identity string `json:"identity"`
	models.Stats
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withLimiter(ctx, func(_ *config.Config, l *limiter.Limiter, st ledgerStore) error {
		identities := args
		if len(identities) == 0 {
			lister, ok := st.(store.Lister)
			if !ok {
				return fmt.Errorf("storage backend cannot list identities; pass identities explicitly")
			}
			ids, err := lister.Identities(ctx)
			if err != nil {
				return err
			}
			identities = ids
		}

		rows := make([]IdentityStats, 0, len(identities))
		for _, id := range identities {
			s, err := l.Stats(ctx, id)
			if err != nil {
				return err
			}
			if s.PercentUsed < statsFlags.MinPercent {
				continue
			}
			rows = append(rows, IdentityStats{Identity: id, Stats: s})
		}

		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		return outputStatsTable(cmd.OutOrStdout(), rows)
	})
}

func outputStatsTable(out io.Writer, rows []IdentityStats) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No identities found matching the criteria.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tUSED\tREMAINING\tUSED %\tRESETS\tCOST")

	for _, r := range rows {
		cost := "-"
		if r.CostUsed != nil {
			cost = fmt.Sprintf("$%.4f", *r.CostUsed)
			if r.CostRemaining != nil {
				cost += fmt.Sprintf(" ($%.4f left)", *r.CostRemaining)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%s\t%s\n",
			r.Identity,
			r.TokensUsed,
			r.Remaining,
			r.PercentUsed,
			r.ResetAt.UTC().Format(time.RFC3339),
			cost,
		)
	}

	if err := w.Flush(); err != nil {
		log.Printf("Error flushing tabwriter: %v", err)
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := args[0]

	tokens := addFlags.Input + addFlags.Output
	if len(args) == 2 {
		if _, err := fmt.Sscan(args[1], &tokens); err != nil {
			return fmt.Errorf("invalid token count %q", args[1])
		}
	}
	if addFlags.Input < 0 || addFlags.Output < 0 {
		return fmt.Errorf("input and output token counts must be non-negative")
	}

	return withLimiter(ctx, func(_ *config.Config, l *limiter.Limiter, _ ledgerStore) error {
		var cost float64
		switch {
		case addFlags.Cost >= 0:
			cost = addFlags.Cost
		case l.Config().CostEnabled():
			cost = l.Pricing().Cost(addFlags.Model, addFlags.Input, addFlags.Output)
		}

		if err := l.AddTokens(ctx, identity, tokens, cost); err != nil {
			return err
		}
		s, err := l.Stats(ctx, identity)
		if err != nil {
			return err
		}

		row := IdentityStats{Identity: identity, Stats: s}
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), row)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d tokens for %s\n", tokens, identity)
		return outputStatsTable(cmd.OutOrStdout(), []IdentityStats{row})
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withLimiter(ctx, func(_ *config.Config, l *limiter.Limiter, _ ledgerStore) error {
		if err := l.Reset(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset usage for %s\n", args[0])
		return nil
	})
}

func runCompact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withLimiter(ctx, func(cfg *config.Config, l *limiter.Limiter, st ledgerStore) error {
		lister, ok := st.(store.Lister)
		if !ok {
			return fmt.Errorf("storage backend cannot list identities")
		}

		var opts []cleanup.Option
		if v, ok := st.(cleanup.Vacuumer); ok && (compactFlags.Vacuum || cfg.Cleanup.Vacuum) {
			opts = append(opts, cleanup.WithVacuumer(v))
		}
		mgr, err := cleanup.NewManager(cleanup.Config{Schedule: cfg.Cleanup.Schedule, Vacuum: len(opts) > 0}, l, lister, opts...)
		if err != nil {
			return err
		}

		result, err := mgr.RunOnce(ctx)
		if err != nil {
			return err
		}
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compacted %d of %d identities, pruned %d events in %s\n",
			result.Compacted, result.Identities, result.EventsPruned, result.Duration.Round(time.Millisecond))
		if result.Failures > 0 {
			return fmt.Errorf("%d identities failed to compact", result.Failures)
		}
		return nil
	})
}

// PriceRow is one row of pricing output.
type PriceRow struct {
	Model  string  `json:"model"`
	Input  float64 `json:"input_per_1k"`
	Output float64 `json:"output_per_1k"`
}

func runPricing(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	table := pricingTable(cfg)

	var rows []PriceRow
	if len(args) == 1 {
		price, key, ok := table.Lookup(args[0])
		if !ok {
			return fmt.Errorf("no pricing entry matches model %q", args[0])
		}
		rows = []PriceRow{{Model: key, Input: price.Input, Output: price.Output}}
	} else {
		for _, key := range table.Keys() {
			p := table[key]
			rows = append(rows, PriceRow{Model: key, Input: p.Input, Output: p.Output})
		}
	}

	if globalFlags.JSON {
		return writeJSON(cmd.OutOrStdout(), rows)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tINPUT/1K\tOUTPUT/1K")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t$%.5f\t$%.5f\n", r.Model, r.Input, r.Output)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// sortByPercent orders rows by usage, highest first.
func sortByPercent(rows []IdentityStats) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].PercentUsed > rows[j].PercentUsed
	})
}
