package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/tracing"
)

// NewAskCmd constructs the `tscbot ask` command, which routes one message
// through the bot exactly as a chat user's message and prints the reply.
func NewAskCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Ask the bot a question",
		Long: `Route one message through the bot and print the reply.

Free text is answered from the knowledge base; menu commands work too.

Examples:
  tscbot ask "加油卡點數怎麼兌換？"
  tscbot ask 問題分類
  tscbot ask "問題分類: 會員"
  tscbot ask 熱門詢問`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			a, err := buildApp(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("ask: cleanup", slog.Any("error", err))
				}
			}()

			reply := a.router.Handle(ctx, userID, strings.Join(args, " "))

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.Text())
			if len(reply.QuickReplies) > 0 {
				labels := make([]string, len(reply.QuickReplies))
				for i, q := range reply.QuickReplies {
					labels[i] = "[" + q.Label + "]"
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.Join(labels, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "User ID recorded in the usage log")

	return cmd
}
