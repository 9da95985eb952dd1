package util

import (
	"strings"
	"testing"
)

func TestSnippetCutsOnWordBoundary(t *testing.T) {
	out := Snippet("transformers scale with data and compute budgets", 20)
	if !strings.HasSuffix(out, "...") {
		t.Fatalf("expected ellipsis, got %q", out)
	}
	if strings.Contains(out, "wit...") {
		t.Fatalf("cut inside a word: %q", out)
	}
}

func TestEvidenceSnippetPrefersMatchingSentence(t *testing.T) {
	chunk := "This paper studies edge computing in cloud schedulers. It evaluates latency reduction for edge workloads. Unrelated appendix text."
	out := EvidenceSnippet(chunk, "What are edge workload latency results?", 70)
	if !strings.HasPrefix(out, "It evaluates latency") {
		t.Fatalf("expected latency sentence first, got %q", out)
	}
}

func TestEvidenceSnippetWithoutTerms(t *testing.T) {
	out := EvidenceSnippet("Short text. More text.", "of a", 100)
	if out != "Short text. More text." {
		t.Fatalf("unexpected snippet %q", out)
	}
}

func TestStripHighlight(t *testing.T) {
	if got := StripHighlight("a <mark>graph</mark> model"); got != "a graph model" {
		t.Fatalf("got %q", got)
	}
}
