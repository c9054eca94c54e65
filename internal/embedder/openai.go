// Package embedder turns FAQ questions and user queries into unit-length
// vectors for the semantic index. The default backend is a local
// multilingual ONNX sentence encoder; Ollama and OpenAI-compatible APIs,
// Azure OpenAI included, are reached over HTTP.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
// BaseURL is "https://api.openai.com/v1" for OpenAI and
// "https://<resource>.openai.azure.com/openai" for Azure, where Model is
// the deployment name and APIVersion is required.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Azure      bool
	APIVersion string
}

// OpenAIEmbedder is safe for concurrent use.
type OpenAIEmbedder struct {
	url        string
	headers    map[string]string
	model      string
	dimensions int
	client     *http.Client
}

func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		url:        cfg.BaseURL + "/embeddings",
		headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Azure {
		e.url = cfg.BaseURL + "/deployments/" + url.PathEscape(cfg.Model) +
			"/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
		e.headers = map[string]string{"api-key": cfg.APIKey}
	}
	return e
}

type openaiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *openaiResponse) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Embed returns one unit vector per text, in input order. Results are
// placed by their reported index since the API does not promise order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions,omitempty"`
	}{texts, e.model, e.dimensions}

	var resp openaiResponse
	if err := call(ctx, e.client, e.url, e.headers, req, &resp); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: %d texts, %d embeddings", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embedder: bad embedding index %d", d.Index)
		}
		normalizeL2(d.Embedding)
		out[d.Index] = d.Embedding
	}
	return out, nil
}
