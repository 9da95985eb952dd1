package search

import (
	"testing"
	"time"

	"paperflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF(t *testing.T) {
	fused := FuseRRF(60, []string{"a", "b", "c"}, []string{"c", "a", "d"})
	require.Len(t, fused, 4)

	assert.Equal(t, "a", fused[0].ID)
	assert.InDelta(t, 1.0/61+1.0/62, fused[0].Score, 1e-12)
	assert.Equal(t, "c", fused[1].ID)
	assert.InDelta(t, 1.0/63+1.0/61, fused[1].Score, 1e-12)
	assert.Equal(t, "b", fused[2].ID)
	assert.Equal(t, "d", fused[3].ID)
}

func TestFuseRRFSingleListKeepsOrder(t *testing.T) {
	fused := FuseRRF(0, []string{"x", "y"})
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].ID)
	assert.Equal(t, "y", fused[1].ID)
}

func hit(id, doc string, score float64, published time.Time) Hit {
	return Hit{ID: id, Score: score, Record: models.IndexRecord{ID: id, DocumentID: doc, PublishedDate: published}}
}

func TestFinalizeSortsByRecencyThenScore(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	hits := []Hit{hit("a", "p1", 3, d1), hit("b", "p2", 1, d2), hit("c", "p3", 2, d2)}

	res := Finalize(hits, Request{Sort: recencySort, Size: 10})
	require.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"c", "b", "a"}, ids(res.Hits))
}

func TestFinalizeMinScoreAndPaging(t *testing.T) {
	now := time.Now()
	hits := []Hit{hit("a", "p", 0.9, now), hit("b", "p", 0.5, now), hit("c", "p", 0.1, now), hit("d", "p", 0.7, now)}

	res := Finalize(hits, Request{MinScore: 0.4, From: 1, Size: 1})
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"d"}, ids(res.Hits))

	res = Finalize([]Hit{hit("a", "p", 1, now)}, Request{From: 5, Size: 10})
	assert.Equal(t, 1, res.Total)
	assert.Empty(t, res.Hits)
}

func TestFinalizeIgnoresMinScoreForFusedScores(t *testing.T) {
	now := time.Now()
	hits := []Hit{hit("a", "p", 2.0/61, now), hit("b", "p", 1.0/62, now)}
	req := Request{
		MinScore: 0.5,
		Vector:   &KNN{Field: "embedding", Vector: []float32{1}, K: 10},
		Fusion:   &Fusion{RankConstant: 60, WindowSize: 10},
		Size:     10,
	}
	res := Finalize(hits, req)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []string{"a", "b"}, ids(res.Hits))
}

func TestCollapse(t *testing.T) {
	now := time.Now()
	hits := []Hit{hit("1", "p1", 3, now), hit("2", "p2", 2, now), hit("3", "p1", 1, now)}
	assert.Equal(t, []string{"1", "2"}, ids(Collapse(hits)))
}

func ids(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ID)
	}
	return out
}
