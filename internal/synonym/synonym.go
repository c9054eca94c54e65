// Package synonym expands query tokens with configured groups of
// interchangeable terms.
package synonym

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cynthiaiii4/TSCBot/internal/tokenize"
)

// Group is a set of mutually interchangeable terms.
type Group []string

// Load reads synonym groups from a YAML file holding a list of lists:
//
//	- [中油, 台灣中油, cpc]
//	- [點數, 積分]
//
// An empty path yields no groups.
func Load(path string) ([]Group, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("synonym: read %s: %w", path, err)
	}
	var groups []Group
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("synonym: parse %s: %w", path, err)
	}
	return groups, nil
}

// Expander maps each known term to the other members of every group it
// appears in. The table is built once and only read afterwards.
type Expander struct {
	tok   tokenize.Tokenizer
	table map[string][]string
	terms []string
}

// New builds an Expander. Terms are normalised the same way the tokenizer
// normalises input; a term never lists itself, and if a lists b then b
// lists a.
func New(tok tokenize.Tokenizer, groups []Group) *Expander {
	e := &Expander{tok: tok, table: make(map[string][]string)}
	seen := make(map[string]bool)

	for _, g := range groups {
		members := make([]string, 0, len(g))
		for _, raw := range g {
			t := tokenize.Normalize(raw)
			if t == "" || slices.Contains(members, t) {
				continue
			}
			members = append(members, t)
			if !seen[t] {
				seen[t] = true
				e.terms = append(e.terms, t)
			}
		}
		for _, a := range members {
			for _, b := range members {
				if a != b && !slices.Contains(e.table[a], b) {
					e.table[a] = append(e.table[a], b)
				}
			}
		}
	}
	return e
}

// Terms returns every configured term in first-seen order. The tokenizer
// registers them so multi-character terms are segmented whole.
func (e *Expander) Terms() []string {
	return slices.Clone(e.terms)
}

// Synonyms returns the synonyms of term, excluding term itself.
func (e *Expander) Synonyms(term string) []string {
	return slices.Clone(e.table[tokenize.Normalize(term)])
}

// ExpandTokens returns tokens unchanged, followed by every synonym of any
// token that is not already present. Order is deterministic, so repeated
// calls score identically.
func (e *Expander) ExpandTokens(tokens []string) []string {
	if e == nil || len(e.table) == 0 {
		return tokens
	}
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}
	out := slices.Clone(tokens)
	for _, t := range tokens {
		for _, syn := range e.table[t] {
			if !present[syn] {
				present[syn] = true
				out = append(out, syn)
			}
		}
	}
	return out
}

// ExpandQuery tokenizes text and returns the deduplicated union of its
// tokens and their synonyms, space-joined.
func (e *Expander) ExpandQuery(text string) string {
	toks := e.ExpandTokens(e.tok.Tokenize(text))
	uniq := make([]string, 0, len(toks))
	for _, t := range toks {
		if !slices.Contains(uniq, t) {
			uniq = append(uniq, t)
		}
	}
	return strings.Join(uniq, " ")
}
