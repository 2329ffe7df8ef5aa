package mapping

import (
	"strings"
	"unicode"
)

// Normalize lowercases letters and numbers, turns every other non-space rune
// into a space, then collapses whitespace runs and trims the ends.
//
// The result never contains LIKE metacharacters (% _ [ ]), so it can be
// wrapped into a contains pattern without escaping.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPattern wraps a normalized query into a LIKE pattern that matches
// it anywhere in the column.
func containsPattern(normalized string) string {
	return "%" + normalized + "%"
}
