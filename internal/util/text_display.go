package util

import (
	"strings"
	"unicode"
)

var snippetStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {}, "with": {}, "from": {},
	"by": {}, "we": {}, "our": {}, "this": {}, "that": {},
}

// Snippet trims s to maxRunes on a word boundary.
func Snippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 300
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexByte(cut, ' '); i > maxRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsPunct) + "..."
}

// EvidenceSnippet picks the sentence of text that mentions the most query terms and
// extends it with the following sentences while they fit in maxRunes.
func EvidenceSnippet(text, query string, maxRunes int) string {
	sentences := splitSentences(strings.Join(strings.Fields(SanitizeText(text)), " "))
	terms := queryTerms(query)
	if len(sentences) == 0 {
		return ""
	}
	if len(terms) == 0 {
		return Snippet(text, maxRunes)
	}

	best, bestHits := 0, -1
	for i, s := range sentences {
		low := strings.ToLower(s)
		hits := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}

	var b strings.Builder
	b.WriteString(sentences[best])
	for _, s := range sentences[best+1:] {
		if len([]rune(b.String()))+1+len([]rune(s)) > maxRunes {
			break
		}
		b.WriteByte(' ')
		b.WriteString(s)
	}
	return Snippet(b.String(), maxRunes)
}

// StripHighlight removes <mark> tags produced by the search backends.
func StripHighlight(s string) string {
	return strings.NewReplacer("<mark>", "", "</mark>", "").Replace(s)
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(s) && s[i+1] != ' ' {
			continue
		}
		if x := strings.TrimSpace(s[start : i+1]); x != "" {
			out = append(out, x)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func queryTerms(q string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := snippetStopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
