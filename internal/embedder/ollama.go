package embedder

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
}

// OllamaConfig selects the server and model, e.g. "http://localhost:11434"
// and "bge-m3".
type OllamaConfig struct {
	Host  string
	Model string
}

func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    cfg.Host + "/api/embed",
		model:  cfg.Model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (r *ollamaResponse) errorMessage() string { return r.Error }

// Embed returns one unit vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{e.model, texts}

	var resp ollamaResponse
	if err := call(ctx, e.client, e.url, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	if got := len(resp.Embeddings); got != len(texts) {
		return nil, fmt.Errorf("ollama embedder: %d texts, %d embeddings", len(texts), got)
	}
	for _, v := range resp.Embeddings {
		normalizeL2(v)
	}
	return resp.Embeddings, nil
}
