// Package indexing runs chunk, embed and store for papers, one document at a time.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paperflow/internal/embedding"
	"paperflow/internal/metrics"
	"paperflow/internal/models"
	"paperflow/internal/search"
	"paperflow/internal/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// recordNamespace seeds the deterministic record ids (UUIDv5 of "arxiv_id:chunk_index").
var recordNamespace = uuid.MustParse("8f4b1f5e-3a57-4c7e-9a53-0b6a3c2d7e11")

type Chunker interface {
	Chunk(docID, title, abstract, fullText string, sections []models.Section) []models.Chunk
}

type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string, batchSize int) (embedding.Result, error)
}

// Store is the part of the index backend the indexer writes through.
type Store interface {
	BulkInsert(ctx context.Context, records []models.IndexRecord) (search.BulkResult, error)
	DeleteByDocumentID(ctx context.Context, documentID string) (int64, error)
	HealthCheck(ctx context.Context) bool
}

type Stats struct {
	ChunksCreated       int `json:"chunks_created"`
	ChunksIndexed       int `json:"chunks_indexed"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
	Errors              int `json:"errors"`
}

type Failure struct {
	DocumentID string `json:"arxiv_id"`
	Kind       string `json:"kind"`
	Error      string `json:"error"`
}

type BatchStats struct {
	Documents           int       `json:"documents"`
	Succeeded           int       `json:"succeeded"`
	Skipped             int       `json:"skipped"`
	Failed              int       `json:"failed"`
	ChunksCreated       int       `json:"chunks_created"`
	ChunksIndexed       int       `json:"chunks_indexed"`
	EmbeddingsGenerated int       `json:"embeddings_generated"`
	Errors              int       `json:"errors"`
	Failures            []Failure `json:"failures,omitempty"`
}

func (b *BatchStats) add(s Stats) {
	b.ChunksCreated += s.ChunksCreated
	b.ChunksIndexed += s.ChunksIndexed
	b.EmbeddingsGenerated += s.EmbeddingsGenerated
	b.Errors += s.Errors
}

type Options struct {
	BatchSize int
}

type Indexer struct {
	chunker  Chunker
	embedder Embedder
	store    Store
	opts     Options
	log      zerolog.Logger
	metrics  *metrics.Metrics
	locks    *keyedMutex
	now      func() time.Time
}

func New(c Chunker, e Embedder, s Store, opts Options, log zerolog.Logger, m *metrics.Metrics) *Indexer {
	return &Indexer{
		chunker:  c,
		embedder: e,
		store:    s,
		opts:     opts,
		log:      log.With().Str("component", "indexer").Logger(),
		metrics:  m,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// IndexDocument chunks, embeds and stores one paper. Nothing is stored unless
// every chunk received an embedding.
func (ix *Indexer) IndexDocument(ctx context.Context, doc models.Document) (Stats, error) {
	if doc.ArxivID == "" {
		return ix.done(Stats{Errors: 1}, "", fmt.Errorf("document without identifier: %w", util.ErrNotFound))
	}
	unlock := ix.locks.Lock(doc.ArxivID)
	defer unlock()
	return ix.index(ctx, doc)
}

// Reindex deletes every record of id and indexes doc in its place. A failure
// after the delete leaves the paper absent from the index, never duplicated.
func (ix *Indexer) Reindex(ctx context.Context, id string, doc models.Document) (Stats, error) {
	if id == "" {
		return ix.done(Stats{Errors: 1}, "", fmt.Errorf("reindex without identifier: %w", util.ErrNotFound))
	}
	if doc.ArxivID == "" {
		doc.ArxivID = id
	}
	if doc.ArxivID != id {
		return ix.done(Stats{Errors: 1}, id, &util.ValidationError{Reason: util.ValidationMissingID, Detail: fmt.Sprintf("document %s does not match %s", doc.ArxivID, id)})
	}
	unlock := ix.locks.Lock(id)
	defer unlock()
	if err := ix.deleteExisting(ctx, id); err != nil {
		return ix.done(Stats{Errors: 1}, id, err)
	}
	return ix.index(ctx, doc)
}

// IndexBatch indexes docs sequentially. Per-document failures are counted and
// never stop the batch; only unreachable storage aborts it.
func (ix *Indexer) IndexBatch(ctx context.Context, docs []models.Document, replaceExisting bool) (BatchStats, error) {
	var out BatchStats
	if !ix.store.HealthCheck(ctx) {
		return out, fmt.Errorf("index batch: %w", util.ErrStorageUnavailable)
	}
	started := time.Now()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Documents++

		var (
			st  Stats
			err error
		)
		if replaceExisting && doc.ArxivID != "" {
			st, err = ix.Reindex(ctx, doc.ArxivID, doc)
		} else {
			st, err = ix.IndexDocument(ctx, doc)
		}
		out.add(st)

		switch {
		case err == nil:
			out.Succeeded++
		case errors.Is(err, util.ErrValidation):
			out.Skipped++
			// A skip is zero progress, not an error.
			out.Errors -= st.Errors
		default:
			out.Failed++
			out.Failures = append(out.Failures, Failure{DocumentID: doc.ArxivID, Kind: util.Kind(err), Error: err.Error()})
		}
	}
	ix.log.Info().Int("documents", out.Documents).Int("succeeded", out.Succeeded).Int("skipped", out.Skipped).
		Int("failed", out.Failed).Int("chunks_indexed", out.ChunksIndexed).Dur("took", time.Since(started)).Msg("batch indexed")
	return out, nil
}

func (ix *Indexer) deleteExisting(ctx context.Context, id string) error {
	n, err := ix.store.DeleteByDocumentID(ctx, id)
	if err != nil {
		return fmt.Errorf("delete existing records for %s: %w", id, err)
	}
	ix.log.Debug().Str("arxiv_id", id).Int64("deleted", n).Msg("existing records removed")
	return nil
}

func (ix *Indexer) index(ctx context.Context, doc models.Document) (Stats, error) {
	var st Stats
	chunks := ix.chunker.Chunk(doc.ArxivID, doc.Title, doc.Abstract, doc.RawText, doc.Sections)
	st.ChunksCreated = len(chunks)
	ix.metrics.ChunksCreated.Add(float64(len(chunks)))
	if len(chunks) == 0 {
		return ix.done(st, doc.ArxivID, &util.ValidationError{Reason: util.ValidationNoContent, Detail: doc.ArxivID})
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	emb, err := ix.embedder.EmbedPassages(ctx, texts, ix.opts.BatchSize)
	if err != nil {
		st.Errors = 1
		return ix.done(st, doc.ArxivID, fmt.Errorf("embed %s: %w", doc.ArxivID, err))
	}
	st.EmbeddingsGenerated = len(emb.Vectors)
	if len(emb.Vectors) != len(chunks) {
		st.Errors = 1
		return ix.done(st, doc.ArxivID, &util.ConsistencyError{DocumentID: doc.ArxivID, Expected: len(chunks), Got: len(emb.Vectors)})
	}

	records := BuildRecords(doc, chunks, emb.Vectors, emb.Model, ix.now().UTC())
	res, err := ix.store.BulkInsert(ctx, records)
	if err != nil {
		st.Errors = 1
		return ix.done(st, doc.ArxivID, fmt.Errorf("store %s: %w", doc.ArxivID, err))
	}
	st.ChunksIndexed = res.Indexed
	st.Errors = res.Failed
	ix.metrics.ChunksIndexed.Add(float64(res.Indexed))
	if res.Failed > 0 {
		ix.log.Warn().Str("arxiv_id", doc.ArxivID).Int("failed", res.Failed).Strs("errors", res.Errors).Msg("some records were rejected")
	}
	return ix.done(st, doc.ArxivID, nil)
}

func (ix *Indexer) done(st Stats, id string, err error) (Stats, error) {
	outcome := "ok"
	switch {
	case err == nil:
		ix.log.Info().Str("arxiv_id", id).Int("chunks", st.ChunksCreated).Int("indexed", st.ChunksIndexed).Msg("document indexed")
	case errors.Is(err, util.ErrValidation):
		outcome = "skipped"
		ix.log.Info().Str("arxiv_id", id).Str("reason", err.Error()).Msg("document skipped")
	default:
		outcome = "failed"
		ix.log.Error().Err(err).Str("arxiv_id", id).Str("kind", util.Kind(err)).Msg("document indexing failed")
	}
	ix.metrics.IndexedDocuments.WithLabelValues(outcome).Inc()
	return st, err
}

// BuildRecords pairs chunks with vectors and copies the paper fields needed to
// render a hit.
func BuildRecords(doc models.Document, chunks []models.Chunk, vectors [][]float32, model string, at time.Time) []models.IndexRecord {
	out := make([]models.IndexRecord, 0, len(chunks))
	for i, c := range chunks {
		out = append(out, models.IndexRecord{
			ID:             RecordID(doc.ArxivID, c.Index),
			DocumentID:     doc.ArxivID,
			ChunkIndex:     c.Index,
			ChunkText:      c.Text,
			ChunkWordCount: c.WordCount,
			StartChar:      c.StartChar,
			EndChar:        c.EndChar,
			OverlapPrev:    c.OverlapPrev,
			OverlapNext:    c.OverlapNext,
			SectionTitle:   c.SectionTitle,
			Embedding:      vectors[i],
			EmbeddingModel: model,
			Title:          doc.Title,
			Authors:        doc.Authors,
			Abstract:       doc.Abstract,
			Categories:     doc.Categories,
			PublishedDate:  doc.PublishedDate,
			PDFURL:         doc.PDFURL,
			IndexedAt:      at,
		})
	}
	return out
}

func RecordID(arxivID string, chunkIndex int) string {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s:%d", arxivID, chunkIndex))).String()
}
