package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/config"
	"github.com/cynthiaiii4/TSCBot/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Spec identifies the resolved embedding backend.
type Spec struct {
	Provider   string
	Model      string
	Dimensions int
}

// DefaultDimensions returns the default embedding vector size for the
// given backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.Int("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "onnx":
		return defaultONNXDimensions
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// SpecFromEnv resolves the backend, model and dimensions.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER (default: onnx)
//  2. EMBEDDING_MODEL overrides the default model for the resolved backend
//  3. EMBEDDING_DIMENSIONS overrides the default dimensions
//     (onnx: 384, ollama: 768, openai/azure: 1536)
func SpecFromEnv() Spec {
	backend := config.String("EMBEDDING_PROVIDER", "onnx")
	model := config.String("EMBEDDING_MODEL", "")
	if model == "" {
		switch backend {
		case "onnx":
			model = defaultONNXModel
		case "ollama":
			model = defaultOllamaModel
		default:
			model = defaultOpenAIModel
		}
	}
	return Spec{Provider: backend, Model: model, Dimensions: DefaultDimensions(backend)}
}

// New constructs the embedder for spec. The onnx backend is wrapped in a
// Lazy holder so the model loads on first use.
func New(spec Spec) (rag.Embedder, error) {
	switch spec.Provider {
	case "onnx":
		cfg := ONNXConfig{
			RuntimeLib:    config.String("ONNX_RUNTIME_LIB", ""),
			ModelPath:     config.String("ONNX_MODEL_PATH", ""),
			TokenizerPath: config.String("ONNX_TOKENIZER_PATH", ""),
			Dimensions:    spec.Dimensions,
			MaxSeqLen:     config.Int("ONNX_MAX_SEQ_LEN", defaultONNXMaxSeqLen),
			TokenTypeIDs:  config.Bool("ONNX_TOKEN_TYPE_IDS", false),
		}
		if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
			return nil, fmt.Errorf("embedder: onnx requires ONNX_MODEL_PATH and ONNX_TOKENIZER_PATH")
		}
		return NewLazy(func(context.Context) (rag.Embedder, error) {
			return NewONNXEncoder(cfg)
		}), nil

	case "ollama":
		host := config.String("EMBEDDING_ENDPOINT", "")
		if host == "" {
			host = config.String("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: spec.Model}), nil

	case "openai":
		apiKey := config.String("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.String("OPENAI_API_KEY", "")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.String("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      spec.Model,
			Dimensions: spec.Dimensions,
		}), nil

	case "azure":
		apiKey := config.String("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.String("AZURE_OPENAI_API_KEY", "")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.String("EMBEDDING_ENDPOINT", "")
		if endpoint == "" {
			endpoint = config.String("AZURE_OPENAI_ENDPOINT", "")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      spec.Model,
			Dimensions: spec.Dimensions,
			Azure:      true,
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: onnx, ollama, openai, azure", spec.Provider)
	}
}

// Handle is the process-wide embedder plus the resources it owns.
type Handle struct {
	rag.Embedder

	// Spec is the resolved backend.
	Spec Spec

	cache *RedisCache
	lazy  *Lazy
}

// Cache returns the Redis cache, or nil when caching is disabled.
func (h *Handle) Cache() *RedisCache {
	return h.cache
}

// Loaded reports whether a lazily loaded model is resident. Remote
// backends always report true.
func (h *Handle) Loaded() bool {
	return h.lazy == nil || h.lazy.Loaded()
}

// Close releases the model and the cache connection.
func (h *Handle) Close() error {
	var errs []error
	if h.lazy != nil {
		errs = append(errs, h.lazy.Close())
	}
	if h.cache != nil {
		errs = append(errs, h.cache.Close())
	}
	return errors.Join(errs...)
}

// NewFromEnv builds the embedder from env. When REDIS_ADDR is set, vectors
// are cached in Redis for EMBED_CACHE_TTL (default 24h).
func NewFromEnv(ctx context.Context, log *slog.Logger) (*Handle, error) {
	spec := SpecFromEnv()
	if err := Validate(spec, log); err != nil {
		return nil, err
	}
	emb, err := New(spec)
	if err != nil {
		return nil, err
	}

	h := &Handle{Embedder: emb, Spec: spec}
	if l, ok := emb.(*Lazy); ok {
		h.lazy = l
	}

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		cache, err := NewRedisCache(ctx, RedisConfig{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		if err != nil {
			return nil, err
		}
		h.cache = cache
		ttl := config.Duration("EMBED_CACHE_TTL", 24*time.Hour)
		h.Embedder = NewCached(emb, cache, spec.Provider+"/"+spec.Model, ttl, log)
		log.Info("embedder: redis cache enabled", slog.String("addr", addr), slog.Duration("ttl", ttl))
	}

	log.Info("embedder: configured",
		slog.String("provider", spec.Provider),
		slog.String("model", spec.Model),
		slog.Int("dimensions", spec.Dimensions),
	)
	return h, nil
}
