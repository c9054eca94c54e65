package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/knowledge"
	"github.com/cynthiaiii4/TSCBot/internal/lexical"
	"github.com/cynthiaiii4/TSCBot/internal/rag"
	"github.com/cynthiaiii4/TSCBot/internal/tokenize"
)

// Snapshot is a corpus with both indices built over it. Position i refers
// to the same record in Corpus, Lexical and Semantic. A Snapshot is never
// mutated; a rebuild produces a new one.
type Snapshot struct {
	Corpus   *knowledge.Corpus
	Lexical  *lexical.Index
	Semantic rag.Index
	BuiltAt  time.Time
}

// Build tokenizes and embeds every question of corpus. Any failure,
// including an index whose length differs from the corpus, fails the
// whole build.
func Build(ctx context.Context, corpus *knowledge.Corpus, tok tokenize.Tokenizer, sem rag.Builder) (*Snapshot, error) {
	questions := corpus.Questions()

	docs := make([][]string, len(questions))
	for i, q := range questions {
		docs[i] = tok.Tokenize(q)
	}
	lex := lexical.Build(docs)
	if err := corpus.CheckAligned(lex.Len()); err != nil {
		return nil, fmt.Errorf("retrieval: lexical index: %w", err)
	}

	semIdx, err := sem.Build(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("retrieval: build semantic index: %w", err)
	}
	if err := corpus.CheckAligned(semIdx.Len()); err != nil {
		return nil, fmt.Errorf("retrieval: semantic index has %d entries for %d questions: %w", semIdx.Len(), corpus.Len(), err)
	}

	return &Snapshot{Corpus: corpus, Lexical: lex, Semantic: semIdx, BuiltAt: time.Now()}, nil
}

// Loader returns the current knowledge records in corpus order.
type Loader func(ctx context.Context) ([]knowledge.Record, error)

// Engine holds the live Snapshot and swaps it atomically on Reload.
// Readers never block and never observe a partially built snapshot.
type Engine struct {
	tok  tokenize.Tokenizer
	sem  rag.Builder
	load Loader
	log  *slog.Logger

	// reloadMu serialises rebuilds.
	reloadMu sync.Mutex
	current  atomic.Pointer[Snapshot]
}

// NewEngine constructs an Engine with no snapshot; call Reload before
// serving.
func NewEngine(tok tokenize.Tokenizer, sem rag.Builder, load Loader, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{tok: tok, sem: sem, load: load, log: log}
}

// Snapshot returns the live snapshot, or nil before the first Reload.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Reload loads the records, builds a new snapshot and publishes it. On
// failure the previous snapshot stays live and the error is returned.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	start := time.Now()
	recs, err := e.load(ctx)
	if err != nil {
		return fmt.Errorf("retrieval: load records: %w", err)
	}
	corpus := knowledge.NewCorpus(recs)

	snap, err := Build(ctx, corpus, e.tok, e.sem)
	if err != nil {
		return err
	}
	e.current.Store(snap)

	e.log.Info("retrieval: snapshot published",
		slog.Int("records", corpus.Len()),
		slog.Int("dropped", len(recs)-corpus.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Ping reports whether a snapshot is being served; used by readiness.
func (e *Engine) Ping(context.Context) error {
	if e.Snapshot() == nil {
		return fmt.Errorf("retrieval: no snapshot loaded")
	}
	return nil
}
