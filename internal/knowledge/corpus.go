// Package knowledge holds the question/answer records the bot answers from
// and the ordered, immutable Corpus that every index is built over.
package knowledge

import (
	"errors"
	"slices"
	"strings"
)

// ErrMisaligned is returned when a structure built over a Corpus does not
// have exactly one entry per record.
var ErrMisaligned = errors.New("knowledge: index not aligned with corpus")

// Record is one stored question with its answer. Identity is the exact
// question text; duplicates from different sources are kept.
type Record struct {
	// Category groups questions for the category menu. May be empty.
	Category string `json:"category,omitempty"`
	// Question is the stored question text.
	Question string `json:"question"`
	// Answer is the stored answer text.
	Answer string `json:"answer"`
	// Source names the import the record came from (e.g. a worksheet name).
	Source string `json:"source,omitempty"`
}

// Corpus is an ordered sequence of records. Position i identifies the same
// record in every index built over the corpus. A Corpus is never mutated
// after construction.
type Corpus struct {
	records []Record
}

// NewCorpus copies records into a Corpus, trimming whitespace and dropping
// records whose question is empty. Insertion order is preserved.
func NewCorpus(records []Record) *Corpus {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		r.Question = strings.TrimSpace(r.Question)
		if r.Question == "" {
			continue
		}
		r.Answer = strings.TrimSpace(r.Answer)
		r.Category = strings.TrimSpace(r.Category)
		out = append(out, r)
	}
	return &Corpus{records: out}
}

// Len returns the number of records.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// At returns the record at position i.
func (c *Corpus) At(i int) Record { return c.records[i] }

// Questions returns the question texts in corpus order.
func (c *Corpus) Questions() []string {
	qs := make([]string, len(c.records))
	for i, r := range c.records {
		qs[i] = r.Question
	}
	return qs
}

// Lookup returns the first record whose question equals q after trimming.
func (c *Corpus) Lookup(q string) (Record, bool) {
	q = strings.TrimSpace(q)
	for _, r := range c.records {
		if r.Question == q {
			return r, true
		}
	}
	return Record{}, false
}

// Categories returns the distinct non-empty categories, sorted.
func (c *Corpus) Categories() []string {
	seen := make(map[string]struct{})
	var cats []string
	for _, r := range c.records {
		if r.Category == "" {
			continue
		}
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		cats = append(cats, r.Category)
	}
	slices.Sort(cats)
	return cats
}

// InCategory returns the questions filed under category, in corpus order.
func (c *Corpus) InCategory(category string) []string {
	category = strings.TrimSpace(category)
	var qs []string
	for _, r := range c.records {
		if r.Category == category {
			qs = append(qs, r.Question)
		}
	}
	return qs
}

// InSource returns the questions imported from source, in corpus order.
func (c *Corpus) InSource(source string) []string {
	source = strings.TrimSpace(source)
	var qs []string
	for _, r := range c.records {
		if strings.TrimSpace(r.Source) == source {
			qs = append(qs, r.Question)
		}
	}
	return qs
}

// CheckAligned returns ErrMisaligned unless n equals the corpus length.
func (c *Corpus) CheckAligned(n int) error {
	if n != c.Len() {
		return ErrMisaligned
	}
	return nil
}
