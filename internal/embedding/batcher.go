// Package embedding turns chunk texts and queries into vectors through the
// configured provider.
package embedding

import (
	"context"
	"fmt"

	"paperflow/internal/metrics"
	"paperflow/internal/providers"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Model       string
	Dimension   int
	BatchSize   int
	Concurrency int
}

type Batcher struct {
	provider providers.EmbeddingProvider
	opts     Options
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewBatcher(p providers.EmbeddingProvider, opts Options, log zerolog.Logger, m *metrics.Metrics) *Batcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Batcher{provider: p, opts: opts, log: log.With().Str("component", "embedding").Logger(), metrics: m}
}

// Result carries the vectors plus the model that produced them.
type Result struct {
	Vectors [][]float32
	Model   string
}

// EmbedPassages embeds texts in batches of batchSize (the configured size when
// batchSize <= 0). Vectors come back in input order. Any batch failure fails
// the whole call.
func (b *Batcher) EmbedPassages(ctx context.Context, texts []string, batchSize int) (Result, error) {
	if len(texts) == 0 {
		return Result{Vectors: [][]float32{}, Model: b.opts.Model}, nil
	}
	if batchSize <= 0 {
		batchSize = b.opts.BatchSize
	}

	nBatches := (len(texts) + batchSize - 1) / batchSize
	slots := make([][][]float32, nBatches)
	models := make([]string, nBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for i := 0; i < nBatches; i++ {
		start := i * batchSize
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, info, err := b.call(gctx, providers.TaskPassage, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch %d/%d: %w", i+1, nBatches, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch %d/%d: %w", i+1, nBatches, &util.ConsistencyError{Expected: end - start, Got: len(vecs)})
			}
			slots[i] = vecs
			models[i] = info.Model
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	out := make([][]float32, 0, len(texts))
	for _, s := range slots {
		out = append(out, s...)
	}
	b.log.Debug().Int("texts", len(texts)).Int("batches", nBatches).Msg("passages embedded")
	return Result{Vectors: out, Model: models[0]}, nil
}

// EmbedQuery embeds a single search query with the query task.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := b.call(ctx, providers.TaskQuery, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: provider returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func (b *Batcher) call(ctx context.Context, task string, inputs []string) ([][]float32, providers.ProviderInfo, error) {
	vecs, info, err := b.provider.Embed(ctx, providers.EmbedRequest{
		Operation: "embed",
		Task:      task,
		Model:     b.opts.Model,
		Inputs:    inputs,
		Dimension: b.opts.Dimension,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.EmbeddingBatches.WithLabelValues(task, status).Inc()
	if err != nil {
		b.log.Warn().Err(err).Str("provider", info.Name).Str("task", task).Int("inputs", len(inputs)).
			Str("class", string(providers.ClassifyError(err))).Msg("embedding call failed")
	}
	return vecs, info, err
}
