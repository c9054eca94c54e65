package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

// NewSearchCmd constructs the `tscbot search` command, which prints the
// ranker's per-candidate scores for a query without recording usage.
func NewSearchCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show retrieval scores for a query",
		Long: `Score every knowledge-base question against a query and print the
lexical (BM25), semantic and combined scores, best first. Questions the
ranking policy would return are marked with '*'.

Examples:
  tscbot search "忘記密碼"
  tscbot search --limit 20 --json "發票 載具"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("search: cleanup", slog.Any("error", err))
				}
			}()

			query := strings.Join(args, " ")
			cands, err := a.ranker.Explain(ctx, query)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			selected := retrieval.Select(cands, a.ranker.Policy())
			cands = cands[:min(max(limit, 1), len(cands))]

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"query":      query,
					"tokens":     a.ranker.QueryTokens(query),
					"selected":   selected,
					"candidates": cands,
				})
			}

			fmt.Fprintf(out, "tokens: %s\n\n", strings.Join(a.ranker.QueryTokens(query), " | "))
			picked := make(map[int]bool, len(selected))
			for _, c := range selected {
				picked[c.Index] = true
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tCOMBINED\tLEXICAL\tSEMANTIC\tQUESTION")
			for _, c := range cands {
				mark := ""
				if picked[c.Index] {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%s\n", mark, c.Combined, c.Lexical, c.Semantic, c.Question)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of candidates to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}
