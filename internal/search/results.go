package search

import (
	"sort"
)

// Finalize applies the post-retrieval steps every backend shares: minimum
// score, sort order and the from/size window. Total counts hits before paging.
// MinScore is on the lexical relevance scale and is not applied to fused
// hybrid scores.
func Finalize(hits []Hit, req Request) Result {
	if req.MinScore > 0 && req.Mode() != ModeHybrid {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= req.MinScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	SortHits(hits, req.Sort)
	total := len(hits)
	return Result{Total: total, Hits: Page(hits, req.From, req.Size)}
}

// SortHits orders hits by the given fields; with no fields it orders by score.
func SortHits(hits []Hit, fields []SortField) {
	if len(fields) == 0 {
		fields = []SortField{{Field: FieldScore, Desc: true}}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		for _, f := range fields {
			c := compareField(hits[i], hits[j], f.Field)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareField(a, b Hit, field string) int {
	switch field {
	case FieldPublishedDate:
		return a.Record.PublishedDate.Compare(b.Record.PublishedDate)
	case FieldScore:
		switch {
		case a.Score > b.Score:
			return 1
		case a.Score < b.Score:
			return -1
		}
	}
	return 0
}

func Page(hits []Hit, from, size int) []Hit {
	if from >= len(hits) {
		return []Hit{}
	}
	end := len(hits)
	if size > 0 && from+size < end {
		end = from + size
	}
	return hits[from:end]
}

// Collapse keeps the first hit of every paper, preserving order.
func Collapse(hits []Hit) []Hit {
	seen := map[string]struct{}{}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.Record.DocumentID]; ok {
			continue
		}
		seen[h.Record.DocumentID] = struct{}{}
		out = append(out, h)
	}
	return out
}
