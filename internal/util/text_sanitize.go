package util

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText drops NUL bytes, invalid UTF-8 and control characters other than
// newline, carriage return and tab. Postgres text columns reject NUL.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch < 0x20 && ch != '\n' && ch != '\r' && ch != '\t' {
			continue
		}
		b.WriteRune(ch)
	}
	return strings.TrimSpace(b.String())
}

// CollapseWhitespace joins all whitespace runs, including newlines, into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}
