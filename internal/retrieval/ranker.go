package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/synonym"
	"github.com/cynthiaiii4/TSCBot/internal/tokenize"
)

// ErrNoSnapshot is returned by Explain before the first snapshot is built.
var ErrNoSnapshot = errors.New("retrieval: no snapshot loaded")

// Match is one returned question with its answer.
type Match struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// ScoredCandidate carries the per-question scores for one query.
type ScoredCandidate struct {
	Index    int     `json:"index"`
	Question string  `json:"question"`
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
	Combined float64 `json:"combined"`
}

// SnapshotSource provides the snapshot to rank against.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// TopMatchRecorder receives the best-ranked question of every query that
// returned results. Implementations must not block.
type TopMatchRecorder interface {
	RecordTopMatch(question string)
}

// RankerConfig holds the Ranker's collaborators. Expander, Recorder and
// Metrics are optional.
type RankerConfig struct {
	Source    SnapshotSource
	Tokenizer tokenize.Tokenizer
	Expander  *synonym.Expander
	Policy    Policy
	Recorder  TopMatchRecorder
	Metrics   *Metrics
}

// Ranker scores queries against the live snapshot. It holds no per-request
// state and is safe for concurrent use.
type Ranker struct {
	cfg RankerConfig
}

// NewRanker validates cfg and returns a Ranker.
func NewRanker(cfg RankerConfig) (*Ranker, error) {
	if cfg.Source == nil || cfg.Tokenizer == nil {
		return nil, fmt.Errorf("retrieval: snapshot source and tokenizer are required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	return &Ranker{cfg: cfg}, nil
}

// Policy returns the ranking policy in effect.
func (r *Ranker) Policy() Policy {
	return r.cfg.Policy
}

// RetrieveTopMatches returns at most MaxResults matches, best first. Any
// scoring failure, including a panic, is logged and yields no matches.
// The best match is handed to the recorder.
func (r *Ranker) RetrieveTopMatches(ctx context.Context, query string) (matches []Match) {
	log := logging.FromContext(ctx)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("retrieval: ranking panicked", slog.Any("panic", rec))
			r.cfg.Metrics.observe(outcomeError, time.Since(start).Seconds(), 0, false)
			matches = nil
		}
	}()

	snap := r.cfg.Source.Snapshot()
	if snap == nil {
		log.Warn("retrieval: no snapshot loaded")
		r.cfg.Metrics.observe(outcomeError, time.Since(start).Seconds(), 0, false)
		return nil
	}

	cands, err := r.score(ctx, snap, query)
	if err != nil {
		log.Warn("retrieval: scoring failed", slog.String("error", err.Error()))
		r.cfg.Metrics.observe(outcomeError, time.Since(start).Seconds(), 0, false)
		return nil
	}

	var top float64
	if len(cands) > 0 {
		top = slices.MaxFunc(cands, func(a, b ScoredCandidate) int {
			switch {
			case a.Combined < b.Combined:
				return -1
			case a.Combined > b.Combined:
				return 1
			}
			return 0
		}).Combined
	}

	selected := Select(cands, r.cfg.Policy)
	outcome := outcomeNone
	switch {
	case len(selected) > 1:
		outcome = outcomeMulti
	case len(selected) == 1:
		outcome = outcomeSingle
	}
	r.cfg.Metrics.observe(outcome, time.Since(start).Seconds(), top, len(cands) > 0)

	if len(selected) == 0 {
		return nil
	}

	matches = make([]Match, len(selected))
	for i, c := range selected {
		rec := snap.Corpus.At(c.Index)
		matches[i] = Match{Question: rec.Question, Answer: rec.Answer, Category: rec.Category, Score: c.Combined}
	}
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.RecordTopMatch(matches[0].Question)
	}
	log.Debug("retrieval: matched",
		slog.String("top", matches[0].Question),
		slog.Float64("score", matches[0].Score),
		slog.Int("returned", len(matches)),
	)
	return matches
}

// Explain returns every candidate with its lexical, semantic and combined
// scores, sorted by combined score with ties in corpus order. Unlike
// RetrieveTopMatches it reports scoring errors.
func (r *Ranker) Explain(ctx context.Context, query string) ([]ScoredCandidate, error) {
	snap := r.cfg.Source.Snapshot()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	cands, err := r.score(ctx, snap, query)
	if err != nil {
		return nil, err
	}
	sortByCombined(cands)
	return cands, nil
}

// QueryTokens returns the tokens the lexical index is queried with.
func (r *Ranker) QueryTokens(query string) []string {
	toks := r.cfg.Tokenizer.Tokenize(query)
	if r.cfg.Policy.ExpandSynonyms && r.cfg.Expander != nil {
		toks = r.cfg.Expander.ExpandTokens(toks)
	}
	return toks
}

// score computes aligned lexical and semantic scores for every question
// and combines them.
func (r *Ranker) score(ctx context.Context, snap *Snapshot, query string) ([]ScoredCandidate, error) {
	n := snap.Corpus.Len()
	if n == 0 {
		return nil, nil
	}

	lex := snap.Lexical.Score(r.QueryTokens(query))

	semCtx := ctx
	if r.cfg.Policy.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		semCtx, cancel = context.WithTimeout(ctx, r.cfg.Policy.EmbedTimeout)
		defer cancel()
	}
	sem, err := snap.Semantic.Score(semCtx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: semantic scoring: %w", err)
	}
	if len(lex) != n || len(sem) != n {
		return nil, fmt.Errorf("retrieval: score lengths lexical=%d semantic=%d corpus=%d", len(lex), len(sem), n)
	}

	p := r.cfg.Policy
	cands := make([]ScoredCandidate, n)
	for i := range n {
		cands[i] = ScoredCandidate{
			Index:    i,
			Question: snap.Corpus.At(i).Question,
			Lexical:  lex[i],
			Semantic: sem[i],
			Combined: p.LexicalWeight*lex[i] + p.SemanticWeight*sem[i],
		}
	}
	return cands, nil
}

// Select applies the two-threshold policy to scored candidates:
// candidates below BaseThreshold are dropped; the rest are ordered by
// combined score, ties in corpus order. If at least two reach
// HighThreshold, up to MaxResults of those are returned; otherwise only
// the single best.
func Select(cands []ScoredCandidate, p Policy) []ScoredCandidate {
	var passed []ScoredCandidate
	for _, c := range cands {
		if c.Combined >= p.BaseThreshold {
			passed = append(passed, c)
		}
	}
	if len(passed) == 0 {
		return nil
	}
	sortByCombined(passed)

	high := 0
	for _, c := range passed {
		if c.Combined >= p.HighThreshold {
			high++
		}
	}
	if high >= 2 {
		return passed[:min(high, max(p.MaxResults, 1))]
	}
	return passed[:1]
}

// sortByCombined orders descending by combined score; equal scores keep
// corpus order.
func sortByCombined(cands []ScoredCandidate) {
	slices.SortStableFunc(cands, func(a, b ScoredCandidate) int {
		switch {
		case a.Combined > b.Combined:
			return -1
		case a.Combined < b.Combined:
			return 1
		}
		return a.Index - b.Index
	})
}
