// Package budget estimates token counts so the answer text fed into the
// synthesizer prompt stays within the model's context window. Backends use
// different tokenizers, so the estimate is a conservative heuristic: every
// Han, Hiragana, Katakana or Hangul rune counts as one token and other text
// as one token per 4 bytes.
package budget

import (
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the byte-to-token ratio for non-CJK text.
	charsPerToken = 4

	// DefaultMaxAnswerTokens bounds the answers embedded in one prompt.
	DefaultMaxAnswerTokens = 1500
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	wide, other := 0, 0
	for _, r := range s {
		if isWide(r) {
			wide++
		} else {
			other += utf8.RuneLen(r)
		}
	}
	n := wide + other/charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total for msgs, adding a small
// per-message overhead for role framing.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Truncate returns the longest prefix of s, cut on a rune boundary, whose
// estimate does not exceed maxTokens. A non-positive maxTokens disables
// truncation. The second result reports whether s was cut.
func Truncate(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || Estimate(s) <= maxTokens {
		return s, false
	}
	wide, other := 0, 0
	for i, r := range s {
		if isWide(r) {
			wide++
		} else {
			other += utf8.RuneLen(r)
		}
		if wide+other/charsPerToken > maxTokens {
			return s[:i], true
		}
	}
	return s, false
}

func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
