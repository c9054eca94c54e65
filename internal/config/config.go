// Package config layers an optional YAML file under the environment. Every
// component reads its own env vars through the typed getters here; the YAML
// file only fills in variables the environment leaves empty.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. TSCBOT_CONFIG environment variable
//  3. ~/.tscbot/config.yaml
//  4. ./tscbot.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// Model configures the chat model used to phrase replies.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the sentence-embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// ONNX configures the local ONNX sentence encoder.
	ONNX ONNXConfig `yaml:"onnx"`

	// Qdrant configures the optional Qdrant-backed semantic index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Redis configures the optional query-embedding cache.
	Redis RedisConfig `yaml:"redis"`

	// Retrieval holds the ranking policy.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Replies holds the static reply texts and the synthesis timeout.
	Replies RepliesConfig `yaml:"replies"`

	// Store configures the SQLite knowledge and usage database.
	Store StoreConfig `yaml:"store"`

	// UsageLog configures the background usage logger.
	UsageLog UsageLogConfig `yaml:"usage_log"`

	// Line configures the LINE messaging gateway.
	Line LineConfig `yaml:"line"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: gemini, ollama, openai, azure, ark.
	Provider    string        `yaml:"provider"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Ollama      OllamaConfig  `yaml:"ollama"`
	OpenAI      OpenAIConfig  `yaml:"openai"`
	Azure       AzureConfig   `yaml:"azure"`
	Ark         ArkConfig     `yaml:"ark"`
	Gemini      GeminiConfig  `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// Provider selects the backend: onnx, ollama, openai, azure.
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	// Timeout bounds a single query encoding, e.g. "10s".
	Timeout string `yaml:"timeout"`
}

// ONNXConfig holds local encoder settings.
type ONNXConfig struct {
	RuntimeLib    string `yaml:"runtime_lib"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	MaxSeqLen     int    `yaml:"max_seq_len"`
	// TokenTypeIDs feeds a token_type_ids input for BERT-style exports.
	TokenTypeIDs bool `yaml:"token_type_ids"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// RedisConfig holds query-embedding cache settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TTL is the cache entry lifetime, e.g. "24h".
	TTL string `yaml:"ttl"`
}

// RetrievalConfig holds the hybrid ranking policy.
type RetrievalConfig struct {
	LexicalWeight  float64 `yaml:"lexical_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	BaseThreshold  float64 `yaml:"base_threshold"`
	HighThreshold  float64 `yaml:"high_threshold"`
	MaxResults     int     `yaml:"max_results"`
	// ExpandSynonyms is a pointer so an explicit false survives the YAML layer.
	ExpandSynonyms  *bool  `yaml:"expand_synonyms"`
	SynonymsFile    string `yaml:"synonyms_file"`
	TokenizerDict   string `yaml:"tokenizer_dict"`
	SemanticBackend string `yaml:"semantic_backend"`
}

// RepliesConfig holds static reply texts.
type RepliesConfig struct {
	NoAnswer string `yaml:"no_answer"`
	Fallback string `yaml:"fallback"`
	// SynthTimeout bounds a single synthesizer call, e.g. "30s".
	SynthTimeout string `yaml:"synth_timeout"`
}

// StoreConfig holds SQLite settings.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
	// PointsSource is the imported source listed by the points menu command.
	PointsSource string `yaml:"points_source"`
}

// UsageLogConfig holds background usage logger settings.
type UsageLogConfig struct {
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`
}

// LineConfig holds LINE messaging gateway settings.
type LineConfig struct {
	// ChannelToken is the channel access token. Prefer env var LINE_CHANNEL_TOKEN.
	ChannelToken string `yaml:"channel_token"`
	APIBase      string `yaml:"api_base"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for /api/* routes. Prefer env var TSCBOT_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit and RateBurst are the per-IP token bucket.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// TrustProxy keys the rate limit on X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return floatStr(float64(c.Model.Temperature)) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBED_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"ONNX_RUNTIME_LIB", func(c *Config) string { return c.ONNX.RuntimeLib }},
	{"ONNX_MODEL_PATH", func(c *Config) string { return c.ONNX.ModelPath }},
	{"ONNX_TOKENIZER_PATH", func(c *Config) string { return c.ONNX.TokenizerPath }},
	{"ONNX_MAX_SEQ_LEN", func(c *Config) string { return intStr(c.ONNX.MaxSeqLen) }},
	{"ONNX_TOKEN_TYPE_IDS", func(c *Config) string { return boolStr(c.ONNX.TokenTypeIDs) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"REDIS_ADDR", func(c *Config) string { return c.Redis.Addr }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Redis.Password }},
	{"REDIS_DB", func(c *Config) string { return intStr(c.Redis.DB) }},
	{"EMBED_CACHE_TTL", func(c *Config) string { return c.Redis.TTL }},
	{"RETRIEVAL_LEXICAL_WEIGHT", func(c *Config) string { return floatStr(c.Retrieval.LexicalWeight) }},
	{"RETRIEVAL_SEMANTIC_WEIGHT", func(c *Config) string { return floatStr(c.Retrieval.SemanticWeight) }},
	{"RETRIEVAL_BASE_THRESHOLD", func(c *Config) string { return floatStr(c.Retrieval.BaseThreshold) }},
	{"RETRIEVAL_HIGH_THRESHOLD", func(c *Config) string { return floatStr(c.Retrieval.HighThreshold) }},
	{"RETRIEVAL_MAX_RESULTS", func(c *Config) string { return intStr(c.Retrieval.MaxResults) }},
	{"RETRIEVAL_EXPAND_SYNONYMS", func(c *Config) string { return boolPtrStr(c.Retrieval.ExpandSynonyms) }},
	{"SYNONYMS_FILE", func(c *Config) string { return c.Retrieval.SynonymsFile }},
	{"TOKENIZER_DICT", func(c *Config) string { return c.Retrieval.TokenizerDict }},
	{"SEMANTIC_BACKEND", func(c *Config) string { return c.Retrieval.SemanticBackend }},
	{"REPLY_NO_ANSWER", func(c *Config) string { return c.Replies.NoAnswer }},
	{"REPLY_FALLBACK", func(c *Config) string { return c.Replies.Fallback }},
	{"SYNTH_TIMEOUT", func(c *Config) string { return c.Replies.SynthTimeout }},
	{"TSCBOT_DB", func(c *Config) string { return c.Store.DBPath }},
	{"POINTS_SOURCE", func(c *Config) string { return c.Store.PointsSource }},
	{"USAGE_LOG_WORKERS", func(c *Config) string { return intStr(c.UsageLog.Workers) }},
	{"USAGE_LOG_QUEUE", func(c *Config) string { return intStr(c.UsageLog.Queue) }},
	{"LINE_CHANNEL_TOKEN", func(c *Config) string { return c.Line.ChannelToken }},
	{"LINE_API_BASE", func(c *Config) string { return c.Line.APIBase }},
	{"TSCBOT_HOST", func(c *Config) string { return c.Server.Host }},
	{"TSCBOT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"TSCBOT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"TSCBOT_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"TSCBOT_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"TSCBOT_TRUST_PROXY", func(c *Config) string { return boolStr(c.Server.TrustProxy) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load finds the YAML file, if any, and exports its non-empty values as
// env vars that are not already set. It returns the loaded path, or "" when
// no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML file, env vars only")
		return "", nil
	}

	cfg, err := parseFile(path)
	if err != nil {
		return "", err
	}

	var applied, shadowed int
	for _, m := range envMapping {
		v := m.value(cfg)
		if v == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			shadowed++
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
		slog.Int("keys_shadowed_by_env", shadowed),
	)
	return path, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveConfigPath returns the first existing candidate. An explicit path
// that does not exist resolves to "" rather than falling through.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return existing(explicit)
	}
	candidates := []string{os.Getenv("TSCBOT_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tscbot", "config.yaml"))
	}
	candidates = append(candidates, "tscbot.yaml")

	for _, c := range candidates {
		if p := existing(c); p != "" {
			return p
		}
	}
	return ""
}

func existing(p string) string {
	if p == "" {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// lookup parses key with parse; unset, empty or unparsable values, or ones
// rejected by ok, yield fallback.
func lookup[T any](key string, fallback T, parse func(string) (T, error), ok func(T) bool) T {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil || (ok != nil && !ok(v)) {
		return fallback
	}
	return v
}

// String returns the env var value, or fallback when unset or empty.
func String(key, fallback string) string {
	return lookup(key, fallback, func(s string) (string, error) { return s, nil }, nil)
}

func Int(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi, nil)
}

func Float(key string, fallback float64) float64 {
	return lookup(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, nil)
}

// Bool accepts the forms of [strconv.ParseBool].
func Bool(key string, fallback bool) bool {
	return lookup(key, fallback, strconv.ParseBool, nil)
}

// Duration accepts [time.ParseDuration] syntax; non-positive values fall back.
func Duration(key string, fallback time.Duration) time.Duration {
	return lookup(key, fallback, time.ParseDuration, func(d time.Duration) bool { return d > 0 })
}

// The *Str helpers render zero values as "" so they are skipped by Load.

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// boolPtrStr keeps an explicit false distinct from an absent key.
func boolPtrStr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
