// Package tracing wires optional Langfuse tracing into the eino callback
// system, so every answer synthesis is traced when keys are configured.
package tracing

import (
	"log/slog"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/cynthiaiii4/TSCBot/internal/config"
)

// Config holds the Langfuse connection settings.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      config.String("LANGFUSE_HOST", "http://localhost:3000"),
		PublicKey: config.String("LANGFUSE_PUBLIC_KEY", ""),
		SecretKey: config.String("LANGFUSE_SECRET_KEY", ""),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup registers the Langfuse handler as a global eino callback when cfg
// is enabled. The returned flush function must run before process exit so
// buffered traces are sent; it is a no-op when tracing is disabled.
func Setup(cfg Config, log *slog.Logger) func() {
	if !cfg.Enabled() {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}
	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "tscbot",
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled", slog.String("host", cfg.Host))
	return flush
}
