package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"paperflow/internal/vector"
)

// MockProvider returns deterministic unit vectors derived from the input text.
// Identical text embeds identically regardless of task, which keeps local
// hybrid search meaningful without network access.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1024
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	info := ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, info, nil
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	var block [sha256.Size]byte
	for i := 0; i < dim; i++ {
		if i%8 == 0 {
			block = sha256.Sum256(binary.BigEndian.AppendUint32(append([]byte(nil), seed...), uint32(i/8)))
		}
		u := binary.BigEndian.Uint32(block[(i%8)*4:])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return vector.Normalize(vec)
}
