package rag

import (
	"context"
	"fmt"
)

// DefaultBatchSize is the number of questions sent to the embedder per call
// during a build.
const DefaultBatchSize = 32

// MemoryBuilder builds MemoryIndex values.
type MemoryBuilder struct {
	// Embedder encodes both questions and queries.
	Embedder Embedder

	// BatchSize bounds each Embed call. Defaults to DefaultBatchSize.
	BatchSize int
}

// Build implements Builder.
func (b MemoryBuilder) Build(ctx context.Context, questions []string) (Index, error) {
	return NewMemoryIndex(ctx, b.Embedder, questions, b.BatchSize)
}

// MemoryIndex keeps every question vector in process memory and scores a
// query with one dot product per question.
type MemoryIndex struct {
	embedder Embedder
	vectors  [][]float32
	dim      int
}

// NewMemoryIndex embeds questions in batches. Any embedding failure aborts
// the build.
func NewMemoryIndex(ctx context.Context, e Embedder, questions []string, batchSize int) (*MemoryIndex, error) {
	if e == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	vecs, dim, err := EmbedAll(ctx, e, questions, batchSize)
	if err != nil {
		return nil, err
	}
	return &MemoryIndex{embedder: e, vectors: vecs, dim: dim}, nil
}

// Len implements Index.
func (m *MemoryIndex) Len() int {
	return len(m.vectors)
}

// Dim returns the vector dimensionality, or 0 for an empty index.
func (m *MemoryIndex) Dim() int {
	return m.dim
}

// Score implements Index.
func (m *MemoryIndex) Score(ctx context.Context, query string) ([]float64, error) {
	scores := make([]float64, len(m.vectors))
	if len(m.vectors) == 0 {
		return scores, nil
	}
	q, err := EmbedOne(ctx, m.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if len(q) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(q), m.dim)
	}
	for i, v := range m.vectors {
		scores[i] = Dot(q, v)
	}
	return scores, nil
}

// EmbedAll embeds texts in batches and checks that every vector has the
// same dimensionality. It returns the vectors and that dimensionality.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, 0, fmt.Errorf("rag: embed questions %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return nil, 0, fmt.Errorf("%w: batch %d-%d returned %d vectors", ErrEmptyEmbedding, start, end-1, len(vecs))
		}
		out = append(out, vecs...)
	}

	dim := 0
	for i, v := range out {
		if len(v) == 0 {
			return nil, 0, fmt.Errorf("%w: question %d", ErrEmptyEmbedding, i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return nil, 0, fmt.Errorf("%w: question %d has %d, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return out, dim, nil
}
