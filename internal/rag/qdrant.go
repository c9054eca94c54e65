package rag

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the base collection name. The build appends a hash of
	// the question list, so each corpus snapshot gets its own collection.
	Collection string

	// Model identifies the embedding model; it is part of the collection
	// hash so vectors from a different model are never reused.
	Model string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// qdrantAPI is the subset of *qdrant.Client the index uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// NewQdrantClient dials Qdrant with defaults applied to cfg.
func NewQdrantClient(cfg *QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "tscbot_faq"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// QdrantBuilder stores question vectors in Qdrant, one collection per
// distinct question list. Point i carries id i, so search results map
// straight back to corpus positions.
type QdrantBuilder struct {
	client    qdrantAPI
	embedder  Embedder
	base      string
	model     string
	batchSize int
	log       *slog.Logger

	mu       sync.Mutex
	current  string
	previous string
}

// NewQdrantBuilder wraps client. The builder owns client and closes it in
// Close.
func NewQdrantBuilder(client *qdrant.Client, e Embedder, cfg *QdrantConfig, log *slog.Logger) (*QdrantBuilder, error) {
	return newQdrantBuilder(client, e, cfg.Collection, cfg.Model, log)
}

func newQdrantBuilder(client qdrantAPI, e Embedder, base, model string, log *slog.Logger) (*QdrantBuilder, error) {
	if client == nil {
		return nil, fmt.Errorf("qdrant: client must not be nil")
	}
	if e == nil {
		return nil, fmt.Errorf("qdrant: embedder must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &QdrantBuilder{client: client, embedder: e, base: base, model: model, batchSize: DefaultBatchSize, log: log}, nil
}

// Build implements Builder. A collection already holding exactly this
// question list is reused without re-embedding. The collection of the
// snapshot being replaced stays available for in-flight queries and is
// dropped one build later.
func (b *QdrantBuilder) Build(ctx context.Context, questions []string) (Index, error) {
	name := CollectionName(b.base, b.model, questions)

	reuse, err := b.reusable(ctx, name, len(questions))
	if err != nil {
		return nil, err
	}
	if !reuse {
		if err := b.populate(ctx, name, questions); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	var stale string
	if name != b.current {
		stale = b.previous
		b.previous, b.current = b.current, name
	}
	b.mu.Unlock()
	if stale != "" && stale != name {
		if err := b.client.DeleteCollection(ctx, stale); err != nil {
			b.log.Warn("qdrant: drop stale collection failed", "collection", stale, "error", err)
		}
	}

	b.log.Info("qdrant: index ready", "collection", name, "points", len(questions), "reused", reuse)
	return &QdrantIndex{client: b.client, embedder: b.embedder, collection: name, n: len(questions)}, nil
}

// HealthCheck calls the Qdrant HealthCheck RPC; used by readiness.
func (b *QdrantBuilder) HealthCheck(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (b *QdrantBuilder) Close() error {
	return b.client.Close()
}

func (b *QdrantBuilder) reusable(ctx context.Context, name string, n int) (bool, error) {
	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return false, nil
	}
	count, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return false, fmt.Errorf("qdrant: count %q: %w", name, err)
	}
	if count == uint64(n) {
		return true, nil
	}
	// A partial upload from an interrupted build.
	if err := b.client.DeleteCollection(ctx, name); err != nil {
		return false, fmt.Errorf("qdrant: drop incomplete collection %q: %w", name, err)
	}
	return false, nil
}

func (b *QdrantBuilder) populate(ctx context.Context, name string, questions []string) error {
	vecs, dim, err := EmbedAll(ctx, b.embedder, questions, b.batchSize)
	if err != nil {
		return err
	}
	if dim == 0 {
		// Qdrant rejects zero-size vectors; an empty corpus needs no collection.
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	for start := 0; start < len(vecs); start += b.batchSize {
		end := min(start+b.batchSize, len(vecs))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(vecs[i]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"index":    i,
					"question": questions[i],
				}),
			})
		}
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
	}
	return nil
}

// QdrantIndex scores queries with a dot-product search over one collection.
type QdrantIndex struct {
	client     qdrantAPI
	embedder   Embedder
	collection string
	n          int
}

// Len implements Index.
func (q *QdrantIndex) Len() int {
	return q.n
}

// Collection returns the backing collection name.
func (q *QdrantIndex) Collection() string {
	return q.collection
}

// Score implements Index. The search limit covers the whole collection;
// points the server does not return score 0.
func (q *QdrantIndex) Score(ctx context.Context, query string) ([]float64, error) {
	scores := make([]float64, q.n)
	if q.n == 0 {
		return scores, nil
	}
	vec, err := EmbedOne(ctx, q.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	limit := uint64(q.n)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	for _, r := range results {
		i := int(r.GetId().GetNum())
		if i < 0 || i >= q.n {
			return nil, fmt.Errorf("qdrant: point id %d outside corpus of %d", i, q.n)
		}
		scores[i] = float64(r.GetScore())
	}
	return scores, nil
}

// CollectionName derives the per-snapshot collection name from the base
// name, the embedding model and the ordered question list.
func CollectionName(base, model string, questions []string) string {
	h := sha1.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(len(questions))))
	for _, q := range questions {
		h.Write([]byte{0})
		h.Write([]byte(q))
	}
	return base + "_" + hex.EncodeToString(h.Sum(nil))[:12]
}
