// Package rag holds the semantic half of retrieval: an Embedder turns text
// into dense vectors and an Index scores a query against every corpus
// question by dot product. Concrete backends (in-memory, Qdrant) satisfy
// Index so the ranker never depends on a specific store.
package rag

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when a vector does not have the
	// dimensionality the index was built with.
	ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")

	// ErrEmptyEmbedding is returned when the embedder returns fewer vectors
	// than texts, or a zero-length vector.
	ErrEmptyEmbedding = errors.New("rag: embedder returned no vector")
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index scores a query against an immutable set of questions.
// Implementations must be safe to call from multiple goroutines.
type Index interface {
	// Len returns the number of indexed questions.
	Len() int

	// Score returns one similarity per question, aligned by position.
	Score(ctx context.Context, query string) ([]float64, error)
}

// Builder encodes a question list into an Index. Position i of the index
// always refers to questions[i].
type Builder interface {
	Build(ctx context.Context, questions []string) (Index, error)
}

// EmbedOne embeds a single text and checks the result shape.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vecs[0], nil
}

// Dot returns the dot product of a and b accumulated in float64. The
// caller guarantees equal lengths.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
