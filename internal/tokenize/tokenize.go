// Package tokenize turns raw question and query text into the token
// sequences the lexical index scores. Chinese text has no whitespace word
// boundaries, so segmentation goes through a dictionary-based segmenter.
package tokenize

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-ego/gse"
	"golang.org/x/text/unicode/norm"
)

// termFrequency is the dictionary weight given to user-supplied terms so the
// segmenter keeps them whole.
const termFrequency = 100000

// Tokenizer segments text into an ordered token sequence. Implementations
// are deterministic, drop punctuation and whitespace, and must be safe for
// concurrent use.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Segmenter is the production Tokenizer backed by gse's embedded Chinese
// dictionary plus optional user terms.
type Segmenter struct {
	seg gse.Segmenter
}

// NewSegmenter loads the embedded dictionary, then the optional user
// dictionary at dictPath (one "term [frequency]" per line), then extraTerms.
// Synonym-group members are passed as extraTerms so expansion and
// tokenization agree on term boundaries.
func NewSegmenter(dictPath string, extraTerms []string) (*Segmenter, error) {
	seg, err := gse.New()
	if err != nil {
		return nil, fmt.Errorf("tokenize: load dictionary: %w", err)
	}
	s := &Segmenter{seg: seg}

	if dictPath != "" {
		if err := s.loadUserDict(dictPath); err != nil {
			return nil, err
		}
	}
	for _, term := range extraTerms {
		if err := s.addTerm(term, termFrequency); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokenize normalises text (NFKC, lower case) and segments it.
func (s *Segmenter) Tokenize(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	return keepWords(s.seg.Cut(text, true))
}

func (s *Segmenter) loadUserDict(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tokenize: open user dictionary: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		freq := float64(termFrequency)
		if len(fields) > 1 {
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil && v > 0 {
				freq = v
			}
		}
		if err := s.addTerm(fields[0], freq); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("tokenize: read user dictionary: %w", err)
	}
	return nil
}

func (s *Segmenter) addTerm(term string, freq float64) error {
	term = Normalize(term)
	if term == "" {
		return nil
	}
	if err := s.seg.AddToken(term, freq); err != nil {
		return fmt.Errorf("tokenize: add term %q: %w", term, err)
	}
	return nil
}

// Fields is a Tokenizer for whitespace-delimited text. It applies the same
// normalisation and filtering as Segmenter without a dictionary.
type Fields struct{}

// Tokenize implements Tokenizer.
func (Fields) Tokenize(text string) []string {
	return keepWords(strings.Fields(Normalize(text)))
}

// Normalize applies NFKC (folding full-width forms), strips control
// characters and lower-cases Latin text.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	return strings.ToLower(strings.TrimSpace(text))
}

// keepWords drops segments that are empty, whitespace or pure punctuation.
func keepWords(segs []string) []string {
	out := make([]string, 0, len(segs))
	for _, t := range segs {
		t = strings.TrimSpace(t)
		if t == "" || !hasWordRune(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
