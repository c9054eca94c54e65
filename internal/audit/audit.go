// Package audit records each CLI invocation with the configuration it
// resolved, so operators can tell which model, index backend and database a
// running bot was wired to. Credentials appear only as "set" or "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// groups lists the audited env vars, grouped by the component they configure.
var groups = []struct {
	name string
	keys []string
}{
	{"model", []string{
		"MODEL_PROVIDER", "GEMINI_MODEL", "GOOGLE_API_KEY", "OLLAMA_HOST", "OLLAMA_MODEL",
		"OPENAI_API_KEY", "OPENAI_MODEL", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"AZURE_OPENAI_DEPLOYMENT", "ARK_MODEL", "ARK_API_KEY",
	}},
	{"embedding", []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"ONNX_MODEL_PATH", "ONNX_TOKENIZER_PATH", "REDIS_ADDR", "REDIS_PASSWORD",
	}},
	{"semantic", []string{"SEMANTIC_BACKEND", "QDRANT_HOST", "QDRANT_COLLECTION", "QDRANT_API_KEY"}},
	{"retrieval", []string{
		"RETRIEVAL_LEXICAL_WEIGHT", "RETRIEVAL_SEMANTIC_WEIGHT", "RETRIEVAL_BASE_THRESHOLD",
		"RETRIEVAL_HIGH_THRESHOLD", "RETRIEVAL_MAX_RESULTS", "RETRIEVAL_EXPAND_SYNONYMS",
		"SYNONYMS_FILE", "TOKENIZER_DICT",
	}},
	{"service", []string{
		"TSCBOT_DB", "POINTS_SOURCE", "TSCBOT_HOST", "TSCBOT_PORT", "TSCBOT_API_KEY", "LINE_CHANNEL_TOKEN",
		"LOG_LEVEL", "LOG_FORMAT", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	}},
}

// secretSuffixes mark a variable as a credential.
var secretSuffixes = []string{"_KEY", "_TOKEN", "_PASSWORD", "_SECRET"}

// LogCommandStart logs the command name, the config file in use and every
// audited variable at INFO.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, g := range groups {
		vals := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			vals = append(vals, slog.String(k, SanitiseKey(k, os.Getenv(k))))
		}
		attrs = append(attrs, slog.Group(g.name, vals...))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value for the log: credentials collapse to "set" or
// "unset", anything else is shown as is, or "unset" when empty.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case isSecret(key):
		return "set"
	}
	return value
}

func isSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// sanitiseConfigPath collapses the home directory to "~"; empty is "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if rest, ok := strings.CutPrefix(p, home); ok {
			return "~" + rest
		}
	}
	return p
}
