package compose

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// DecodeEscapes replaces \uXXXX (including UTF-16 surrogate pairs),
// \UXXXXXXXX and the common single-character escapes with the characters
// they denote. Malformed sequences are kept verbatim.
func DecodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}

		switch c := s[i+1]; c {
		case 'u':
			r, ok := hexRune(s, i+2, 4)
			if !ok {
				break
			}
			n := 6
			if utf16.IsSurrogate(r) {
				if i+7 < len(s) && s[i+6] == '\\' && s[i+7] == 'u' {
					if lo, ok := hexRune(s, i+8, 4); ok {
						if dec := utf16.DecodeRune(r, lo); dec != unicode.ReplacementChar {
							r, n = dec, 12
						}
					}
				}
			}
			b.WriteRune(r)
			i += n
			continue
		case 'U':
			if r, ok := hexRune(s, i+2, 8); ok {
				b.WriteRune(r)
				i += 10
				continue
			}
		case 'n':
			b.WriteByte('\n')
			i += 2
			continue
		case 't':
			b.WriteByte('\t')
			i += 2
			continue
		case 'r':
			b.WriteByte('\r')
			i += 2
			continue
		case '"', '\\', '\'':
			b.WriteByte(c)
			i += 2
			continue
		}

		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// hexRune parses n hex digits of s starting at off.
func hexRune(s string, off, n int) (rune, bool) {
	if off+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[off:off+n], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
