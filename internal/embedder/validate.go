package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cynthiaiii4/TSCBot/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate checks that spec is usable before the embedder is constructed,
// so operators get a clear error at startup rather than a failure during
// the first index build. It logs a warning if EMBEDDING_MODEL looks like a
// chat model rather than an embedding model.
func Validate(spec Spec, log *slog.Logger) error {
	switch spec.Provider {
	case "onnx":
		for _, key := range []string{"ONNX_MODEL_PATH", "ONNX_TOKENIZER_PATH"} {
			path := config.String(key, "")
			if path == "" {
				return fmt.Errorf("embedder: onnx backend requires %s", key)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("embedder: %s: %w", key, err)
			}
		}

	case "openai":
		if config.String("EMBEDDING_API_KEY", "") == "" && config.String("OPENAI_API_KEY", "") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}

	case "azure":
		if config.String("EMBEDDING_API_KEY", "") == "" && config.String("AZURE_OPENAI_API_KEY", "") == "" {
			return fmt.Errorf("embedder: no Azure API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if config.String("EMBEDDING_ENDPOINT", "") == "" && config.String("AZURE_OPENAI_ENDPOINT", "") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}

	case "ollama":

	default:
		return fmt.Errorf("embedder: unknown backend %q, valid values: onnx, ollama, openai, azure", spec.Provider)
	}

	if looksLikeChatModel(spec.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", spec.Model),
			slog.String("hint", "use a multilingual sentence-embedding model e.g. paraphrase-multilingual-MiniLM-L12-v2"),
		)
	}

	return nil
}
