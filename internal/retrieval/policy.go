// Package retrieval is the hybrid retrieval engine: it builds an immutable
// snapshot of the knowledge corpus with a lexical (BM25) and a semantic
// (embedding) index over it, and ranks questions against a user query by a
// weighted sum of both scores under a two-threshold confidence policy.
package retrieval

import (
	"errors"
	"fmt"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/config"
)

// Policy is the tunable ranking policy.
type Policy struct {
	// LexicalWeight and SemanticWeight weight the two scores in the
	// combined score.
	LexicalWeight  float64
	SemanticWeight float64

	// BaseThreshold is the minimum combined score for any result.
	BaseThreshold float64

	// HighThreshold marks high-confidence candidates. More than one result
	// is returned only when at least two candidates reach it.
	HighThreshold float64

	// MaxResults caps the number of high-confidence results returned.
	MaxResults int

	// ExpandSynonyms feeds synonym-expanded query tokens to the lexical
	// index instead of the raw tokens.
	ExpandSynonyms bool

	// EmbedTimeout bounds the query encoding during semantic scoring.
	EmbedTimeout time.Duration
}

// DefaultPolicy returns 0.7 lexical / 0.3 semantic, thresholds 5 and 10,
// at most 2 results, synonym expansion on and a 10s encoding timeout.
func DefaultPolicy() Policy {
	return Policy{
		LexicalWeight:  0.7,
		SemanticWeight: 0.3,
		BaseThreshold:  5,
		HighThreshold:  10,
		MaxResults:     2,
		ExpandSynonyms: true,
		EmbedTimeout:   10 * time.Second,
	}
}

// PolicyFromEnv overlays RETRIEVAL_* and EMBED_TIMEOUT on DefaultPolicy.
func PolicyFromEnv() Policy {
	d := DefaultPolicy()
	return Policy{
		LexicalWeight:  config.Float("RETRIEVAL_LEXICAL_WEIGHT", d.LexicalWeight),
		SemanticWeight: config.Float("RETRIEVAL_SEMANTIC_WEIGHT", d.SemanticWeight),
		BaseThreshold:  config.Float("RETRIEVAL_BASE_THRESHOLD", d.BaseThreshold),
		HighThreshold:  config.Float("RETRIEVAL_HIGH_THRESHOLD", d.HighThreshold),
		MaxResults:     config.Int("RETRIEVAL_MAX_RESULTS", d.MaxResults),
		ExpandSynonyms: config.Bool("RETRIEVAL_EXPAND_SYNONYMS", d.ExpandSynonyms),
		EmbedTimeout:   config.Duration("EMBED_TIMEOUT", d.EmbedTimeout),
	}
}

// Validate rejects policies the ranker cannot apply.
func (p Policy) Validate() error {
	var errs []error
	if p.LexicalWeight < 0 || p.SemanticWeight < 0 {
		errs = append(errs, fmt.Errorf("weights must be non-negative (lexical %g, semantic %g)", p.LexicalWeight, p.SemanticWeight))
	}
	if p.HighThreshold < p.BaseThreshold {
		errs = append(errs, fmt.Errorf("high threshold %g is below base threshold %g", p.HighThreshold, p.BaseThreshold))
	}
	if p.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("max results must be at least 1, got %d", p.MaxResults))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("retrieval: invalid policy: %w", err)
	}
	return nil
}
