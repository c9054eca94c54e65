// Package commands defines all Cobra CLI commands for the tscbot binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/cynthiaiii4/TSCBot/internal/audit"
	"github.com/cynthiaiii4/TSCBot/internal/config"
	"github.com/cynthiaiii4/TSCBot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tscbot",
		Short: "TSCBot, a FAQ customer-service bot with hybrid retrieval",
		Long: `TSCBot answers customer questions from a FAQ knowledge base.

Questions are ranked by a weighted blend of BM25 keyword scores and sentence
embedding similarity; the best matches are turned into a reply by a chat
model. Replies are delivered through the LINE Messaging API webhook, a JSON
API, an MCP stdio server, or this CLI.

Settings come from environment variables or a YAML config file
(~/.tscbot/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.tscbot/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewSearchCmd(),
		NewImportCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return root
}
