package commands

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/mcp"
	"github.com/cynthiaiii4/TSCBot/internal/tracing"
	"github.com/cynthiaiii4/TSCBot/internal/version"
)

// NewMCPCmd constructs the `tscbot mcp` command, which serves the bot as
// Model Context Protocol tools over stdio.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve faq_ask and faq_search as MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools:
  faq_ask      route a message through the bot and return the reply
  faq_search   per-candidate retrieval scores for a query

Logs go to stderr so they never corrupt the protocol stream.

Example client entry:
  {"command": "tscbot", "args": ["mcp"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.New()
			ctx = logging.WithLogger(ctx, logger)

			flush := tracing.Setup(tracing.ConfigFromEnv(), logger)
			defer flush()

			a, err := buildApp(ctx, logger, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("mcp: cleanup", slog.Any("error", err))
				}
			}()

			srv, err := mcp.NewServer(mcp.ServerConfig{
				Router:   a.router,
				Searcher: a.ranker,
				Version:  version.Version,
			})
			if err != nil {
				return err
			}

			logger.Info("mcp server ready on stdio")
			return mcp.Serve(ctx, srv, os.Stdin, os.Stdout, log.New(os.Stderr, "mcp: ", log.LstdFlags))
		},
	}
}
