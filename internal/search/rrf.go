package search

import "sort"

type Fused struct {
	ID    string
	Score float64
}

// FuseRRF merges ranked id lists by reciprocal rank, 1/(k+rank+1) per list.
// Ties keep the order in which ids were first seen.
func FuseRRF(k int, lists ...[]string) []Fused {
	if k <= 0 {
		k = 60
	}
	scores := map[string]float64{}
	var order []string
	for _, list := range lists {
		for rank, id := range list {
			if _, ok := scores[id]; !ok {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+rank+1)
		}
	}
	out := make([]Fused, 0, len(order))
	for _, id := range order {
		out = append(out, Fused{ID: id, Score: scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
