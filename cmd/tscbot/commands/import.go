package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cynthiaiii4/TSCBot/internal/ingestion"
	"github.com/cynthiaiii4/TSCBot/internal/logging"
)

// NewImportCmd constructs the `tscbot import` command, which loads FAQ rows
// from CSV into the knowledge store.
func NewImportCmd() *cobra.Command {
	var source string
	var file string
	var url string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import FAQ rows from CSV into the knowledge store",
		Long: `Load FAQ rows from a CSV file or URL into the knowledge store.

The header row names the columns; recognised headers are 問題分類/分類/category,
問題描述/問題/question and 解決方式/解答/答案/answer. Rows without a question
are skipped. The import replaces every row of --source in one transaction, so
several sources (for example one per spreadsheet tab) can coexist.

A running server picks up the change on POST /api/reload or restart.

Examples:
  tscbot import --source faq --file ./faq.csv
  tscbot import --source billing --url "https://docs.google.com/spreadsheets/d/<id>/export?format=csv&gid=0"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if (file == "") == (url == "") {
				return fmt.Errorf("import: exactly one of --file or --url is required")
			}
			location := file
			if url != "" {
				location = url
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			defer func() { _ = st.Close() }()

			pipeline, err := ingestion.NewPipeline(st, nil)
			if err != nil {
				return fmt.Errorf("import: failed to create pipeline: %w", err)
			}

			res, err := pipeline.Import(ctx, source, location)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			log.Info("import complete",
				slog.String("source", res.Source),
				slog.String("location", res.Location),
				slog.Int("rows", res.Rows),
				slog.Int("skipped", res.Skipped),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %q (%d skipped)\n", res.Rows, res.Source, res.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source name to replace (default: inferred from the file or URL)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Local CSV file")
	cmd.Flags().StringVarP(&url, "url", "u", "", "CSV URL, such as a spreadsheet CSV export")

	return cmd
}
