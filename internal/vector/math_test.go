package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	require.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	require.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	require.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	require.InDelta(t, 0.6, v[0], 1e-6)
	require.InDelta(t, 0.8, v[1], 1e-6)
	require.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0, -1.5, math.MaxFloat32, float32(math.SmallestNonzeroFloat32)}
	b := Encode(v)
	require.Len(t, b, 16)
	require.Equal(t, v, Decode(b))
	require.Nil(t, Encode(nil))
	require.Nil(t, Decode([]byte{1, 2}))
}
