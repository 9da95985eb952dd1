package embedding

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"paperflow/internal/metrics"
	"paperflow/internal/providers"
	"paperflow/internal/util"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// echoProvider embeds "n" as the one-dimensional vector [n].
type echoProvider struct {
	mu    sync.Mutex
	calls []providers.EmbedRequest
}

func (e *echoProvider) Embed(_ context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()
	out := make([][]float32, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		n, _ := strconv.Atoi(in)
		out = append(out, []float32{float32(n)})
	}
	return out, providers.ProviderInfo{Name: "echo", Model: "echo-1"}, nil
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	args := m.Called(ctx, req)
	vecs, _ := args.Get(0).([][]float32)
	return vecs, args.Get(1).(providers.ProviderInfo), args.Error(2)
}

func inputs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func TestEmbedPassagesPreservesLengthAndOrder(t *testing.T) {
	const batch = 4
	for _, n := range []int{0, 1, batch - 1, batch, batch + 1, 3*batch + 2} {
		for _, concurrency := range []int{1, 3} {
			p := &echoProvider{}
			b := NewBatcher(p, Options{Model: "echo-1", BatchSize: 10, Concurrency: concurrency}, zerolog.Nop(), metrics.NewNop())

			res, err := b.EmbedPassages(context.Background(), inputs(n), batch)
			require.NoError(t, err)
			require.Len(t, res.Vectors, n, "n=%d", n)
			for i, v := range res.Vectors {
				require.Equal(t, []float32{float32(i)}, v, "n=%d i=%d", n, i)
			}
			require.Len(t, p.calls, (n+batch-1)/batch, "n=%d", n)
			for _, c := range p.calls {
				require.LessOrEqual(t, len(c.Inputs), batch)
				require.Equal(t, providers.TaskPassage, c.Task)
			}
		}
	}
}

func TestEmbedPassagesDefaultsBatchSize(t *testing.T) {
	p := &echoProvider{}
	b := NewBatcher(p, Options{BatchSize: 2}, zerolog.Nop(), metrics.NewNop())
	res, err := b.EmbedPassages(context.Background(), inputs(5), 0)
	require.NoError(t, err)
	require.Len(t, res.Vectors, 5)
	require.Equal(t, "echo-1", res.Model)
	require.Len(t, p.calls, 3)
}

func TestEmbedPassagesFailureAbortsWholeCall(t *testing.T) {
	p := &mockProvider{}
	p.On("Embed", mock.Anything, mock.MatchedBy(func(r providers.EmbedRequest) bool { return r.Inputs[0] == "0" })).
		Return([][]float32{{0}, {1}}, providers.ProviderInfo{Name: "m"}, nil)
	p.On("Embed", mock.Anything, mock.MatchedBy(func(r providers.EmbedRequest) bool { return r.Inputs[0] == "2" })).
		Return(nil, providers.ProviderInfo{Name: "m"}, errors.New("upstream 503 unavailable"))

	m := metrics.NewNop()
	b := NewBatcher(p, Options{Concurrency: 1}, zerolog.Nop(), m)
	res, err := b.EmbedPassages(context.Background(), inputs(4), 2)
	require.Error(t, err)
	require.Nil(t, res.Vectors)
	require.Contains(t, err.Error(), "embed batch 2/2")
	require.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingBatches.WithLabelValues(providers.TaskPassage, "error")))
	p.AssertExpectations(t)
}

func TestEmbedPassagesRejectsShortBatch(t *testing.T) {
	p := &mockProvider{}
	p.On("Embed", mock.Anything, mock.MatchedBy(func(r providers.EmbedRequest) bool { return r.Inputs[0] == "0" })).
		Return([][]float32{{0}, {1}, {1}}, providers.ProviderInfo{Name: "m"}, nil)
	p.On("Embed", mock.Anything, mock.MatchedBy(func(r providers.EmbedRequest) bool { return r.Inputs[0] == "2" })).
		Return([][]float32{{2}}, providers.ProviderInfo{Name: "m"}, nil).Maybe()

	b := NewBatcher(p, Options{Concurrency: 1}, zerolog.Nop(), metrics.NewNop())
	res, err := b.EmbedPassages(context.Background(), inputs(4), 2)
	require.ErrorIs(t, err, util.ErrConsistency)
	require.Nil(t, res.Vectors)
	require.Contains(t, err.Error(), "embed batch 1/2")
}

func TestEmbedQueryUsesQueryTask(t *testing.T) {
	p := &mockProvider{}
	p.On("Embed", mock.Anything, mock.MatchedBy(func(r providers.EmbedRequest) bool {
		return r.Task == providers.TaskQuery && len(r.Inputs) == 1 && r.Inputs[0] == "transformers" && r.Dimension == 3
	})).Return([][]float32{{0.1, 0.2, 0.3}}, providers.ProviderInfo{Name: "m"}, nil)

	b := NewBatcher(p, Options{Dimension: 3}, zerolog.Nop(), metrics.NewNop())
	v, err := b.EmbedQuery(context.Background(), "transformers")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	p.AssertExpectations(t)
}

func TestEmbedQueryRejectsWrongCount(t *testing.T) {
	p := &mockProvider{}
	p.On("Embed", mock.Anything, mock.Anything).Return([][]float32{}, providers.ProviderInfo{}, nil)
	b := NewBatcher(p, Options{}, zerolog.Nop(), metrics.NewNop())
	_, err := b.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
}
