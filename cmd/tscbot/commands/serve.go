package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/cynthiaiii4/TSCBot/internal/config"
	"github.com/cynthiaiii4/TSCBot/internal/line"
	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/server"
	"github.com/cynthiaiii4/TSCBot/internal/tracing"
)

// NewServeCmd constructs the `tscbot serve` command, which starts the LINE
// webhook and the JSON API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and API server",
		Long: `Start the TSCBot HTTP server.

The knowledge base is loaded from the store and indexed before the server
starts listening; an indexing failure aborts startup. Routes:

  POST /callback      LINE Messaging API webhook
  POST /api/ask       route one message, as a chat user would
  POST /api/search    per-candidate retrieval scores
  POST /api/reload    rebuild the index from the store
  GET  /api/health    liveness
  GET  /api/ready     readiness of the index, store, Qdrant and Redis
  GET  /metrics       Prometheus metrics

Examples:
  tscbot serve
  tscbot serve --port 9090
  MODEL_PROVIDER=ollama LINE_CHANNEL_TOKEN=... tscbot serve --host 0.0.0.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			a, err := buildApp(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("serve: shutdown cleanup", slog.Any("error", err))
				}
			}()

			deps := server.Deps{Router: a.router, Searcher: a.ranker, Reloader: a.engine}
			if lineCfg := line.ConfigFromEnv(); lineCfg.ChannelToken != "" {
				client, err := line.NewClient(lineCfg, nil)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				deps.Line = client
			}

			if !cmd.Flags().Changed("host") {
				host = config.String("TSCBOT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.Int("TSCBOT_PORT", port)
			}

			srv, err := server.New(deps, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         a.pingers,
				RateLimit:       config.Float("TSCBOT_RATE_LIMIT", 0),
				RateBurst:       config.Int("TSCBOT_RATE_BURST", 0),
				TrustProxy:      config.Bool("TSCBOT_TRUST_PROXY", false),
				APIKey:          config.String("TSCBOT_API_KEY", ""),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
