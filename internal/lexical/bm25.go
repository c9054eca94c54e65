// Package lexical implements the BM25 (Okapi) index used for term-overlap
// scoring of FAQ questions.
package lexical

import (
	"maps"
	"math"
	"slices"
)

// Default BM25 parameters.
const (
	DefaultK1      = 1.5
	DefaultB       = 0.75
	DefaultEpsilon = 0.25
)

// Params tunes term-frequency saturation (K1), length normalisation (B) and
// the floor for negative IDF values (Epsilon, as a fraction of mean IDF).
type Params struct {
	K1      float64
	B       float64
	Epsilon float64
}

// DefaultParams returns k1=1.5, b=0.75, epsilon=0.25.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB, Epsilon: DefaultEpsilon}
}

// Index is a BM25 index over tokenized documents. It is immutable after
// Build and safe for concurrent reads.
type Index struct {
	params Params

	// termFreqs[i][term] is the count of term in document i.
	termFreqs []map[string]int

	// docLens[i] is the token count of document i.
	docLens []int

	avgDocLen float64

	// idf holds the precomputed inverse document frequency per term.
	idf map[string]float64
}

// Build indexes docs with the default parameters. Empty documents are kept
// as zero-information entries so positions stay aligned with the corpus.
func Build(docs [][]string) *Index {
	return BuildWithParams(docs, DefaultParams())
}

// BuildWithParams indexes docs with explicit parameters.
func BuildWithParams(docs [][]string, p Params) *Index {
	idx := &Index{
		params:    p,
		termFreqs: make([]map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		idf:       make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0
	for i, doc := range docs {
		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}
		for tok := range tf {
			docFreq[tok]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(doc)
		total += len(doc)
	}
	if len(docs) > 0 {
		idx.avgDocLen = float64(total) / float64(len(docs))
	}

	// Terms present in more than half the documents get a negative raw IDF;
	// those are floored to Epsilon times the mean IDF.
	n := float64(len(docs))
	var sum float64
	var negative []string
	// Sorted iteration keeps the mean IDF bit-identical across builds.
	for _, term := range slices.Sorted(maps.Keys(docFreq)) {
		df := docFreq[term]
		v := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.idf[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	if len(docFreq) > 0 {
		floor := p.Epsilon * sum / float64(len(docFreq))
		for _, term := range negative {
			idx.idf[term] = floor
		}
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docLens)
}

// IDF returns the inverse document frequency of term, or 0 when the term
// is not in the vocabulary.
func (idx *Index) IDF(term string) float64 {
	return idx.idf[term]
}

// Score returns one BM25 score per document, aligned by index. Repeated
// query tokens contribute once per occurrence. A query with no vocabulary
// terms scores zero everywhere.
func (idx *Index) Score(query []string) []float64 {
	scores := make([]float64, len(idx.docLens))
	if idx.avgDocLen == 0 {
		return scores
	}
	k1, b := idx.params.K1, idx.params.B

	for _, term := range query {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		for i, tf := range idx.termFreqs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := 1 - b + b*float64(idx.docLens[i])/idx.avgDocLen
			scores[i] += idf * f * (k1 + 1) / (f + k1*norm)
		}
	}
	return scores
}
