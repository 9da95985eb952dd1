package indexing

import (
	"context"
	"sync"
	"testing"
	"time"

	"paperflow/internal/chunker"
	"paperflow/internal/embedding"
	"paperflow/internal/metrics"
	"paperflow/internal/models"
	"paperflow/internal/search"
	"paperflow/internal/util"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	drop int
	err  error
}

func (f *fakeEmbedder) EmbedPassages(_ context.Context, texts []string, _ int) (embedding.Result, error) {
	if f.err != nil {
		return embedding.Result{}, f.err
	}
	n := len(texts) - f.drop
	if n < 0 {
		n = 0
	}
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = []float32{float32(i), 1}
	}
	return embedding.Result{Vectors: vecs, Model: "fake-embed"}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	healthy bool
	records map[string][]models.IndexRecord
	calls   []string
	failN   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{healthy: true, records: map[string][]models.IndexRecord{}}
}

func (s *fakeStore) BulkInsert(_ context.Context, recs []models.IndexRecord) (search.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "insert")
	res := search.BulkResult{}
	for i, r := range recs {
		if i < s.failN {
			res.Failed++
			res.Errors = append(res.Errors, "rejected")
			continue
		}
		s.records[r.DocumentID] = append(s.records[r.DocumentID], r)
		res.Indexed++
	}
	return res, nil
}

func (s *fakeStore) DeleteByDocumentID(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete:"+id)
	n := int64(len(s.records[id]))
	delete(s.records, id)
	return n, nil
}

func (s *fakeStore) HealthCheck(context.Context) bool { return s.healthy }

// recordingChunker wraps a real chunker and logs when it runs relative to the store.
type recordingChunker struct {
	inner *chunker.Chunker
	store *fakeStore
}

func (r *recordingChunker) Chunk(docID, title, abstract, fullText string, sections []models.Section) []models.Chunk {
	r.store.mu.Lock()
	r.store.calls = append(r.store.calls, "chunk:"+docID)
	r.store.mu.Unlock()
	return r.inner.Chunk(docID, title, abstract, fullText, sections)
}

func newTestIndexer(t *testing.T, e Embedder, s *fakeStore) (*Indexer, *metrics.Metrics) {
	t.Helper()
	c, err := chunker.New(chunker.DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)
	m := metrics.NewNop()
	ix := New(&recordingChunker{inner: c, store: s}, e, s, Options{BatchSize: 8}, zerolog.Nop(), m)
	ix.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return ix, m
}

func paper(id string, words int) models.Document {
	text := ""
	for i := 0; i < words; i++ {
		if i > 0 {
			text += " "
		}
		text += "token"
	}
	return models.Document{
		ArxivID:       id,
		Title:         "A Paper",
		Abstract:      "An abstract about things.",
		Authors:       []string{"Ada"},
		Categories:    []string{"cs.AI"},
		PublishedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RawText:       text,
	}
}

func TestIndexDocumentStoresEveryChunk(t *testing.T) {
	store := newFakeStore()
	ix, m := newTestIndexer(t, &fakeEmbedder{}, store)

	st, err := ix.IndexDocument(context.Background(), paper("2401.00001", 1200))
	require.NoError(t, err)
	require.Equal(t, 3, st.ChunksCreated)
	require.Equal(t, 3, st.EmbeddingsGenerated)
	require.Equal(t, 3, st.ChunksIndexed)
	require.Zero(t, st.Errors)

	recs := store.records["2401.00001"]
	require.Len(t, recs, 3)
	for i, r := range recs {
		require.Equal(t, i, r.ChunkIndex)
		require.Equal(t, RecordID("2401.00001", i), r.ID)
		require.Equal(t, "fake-embed", r.EmbeddingModel)
		require.Equal(t, []string{"cs.AI"}, r.Categories)
		require.Equal(t, float32(i), r.Embedding[0])
	}
	require.Equal(t, 3.0, testutil.ToFloat64(m.ChunksIndexed))
	require.Equal(t, 1.0, testutil.ToFloat64(m.IndexedDocuments.WithLabelValues("ok")))
}

func TestIndexDocumentEmbeddingMismatchStoresNothing(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{drop: 1}, store)

	st, err := ix.IndexDocument(context.Background(), paper("2401.00002", 1200))
	require.ErrorIs(t, err, util.ErrConsistency)
	require.Equal(t, 0, st.ChunksIndexed)
	require.Equal(t, 1, st.Errors)
	require.Equal(t, 3, st.ChunksCreated)
	require.Equal(t, 2, st.EmbeddingsGenerated)
	require.NotContains(t, store.calls, "insert")
	require.Empty(t, store.records)
}

func TestIndexDocumentEmbeddingError(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{err: &util.TransportError{Op: "embed", StatusCode: 503}}, store)

	st, err := ix.IndexDocument(context.Background(), paper("2401.00003", 50))
	require.ErrorIs(t, err, util.ErrTransport)
	require.Equal(t, 1, st.Errors)
	require.Empty(t, store.records)
}

func TestIndexDocumentWithoutIdentifier(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)

	st, err := ix.IndexDocument(context.Background(), paper("", 50))
	require.ErrorIs(t, err, util.ErrNotFound)
	require.Equal(t, Stats{Errors: 1}, st)
	require.Empty(t, store.calls)
}

func TestIndexDocumentWithoutContentIsSkipped(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)

	st, err := ix.IndexDocument(context.Background(), paper("2401.00004", 0))
	require.ErrorIs(t, err, util.ErrValidation)
	require.Zero(t, st.ChunksCreated)
	require.Zero(t, st.Errors)
}

func TestIndexDocumentPartialStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failN = 1
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)

	st, err := ix.IndexDocument(context.Background(), paper("2401.00005", 1200))
	require.NoError(t, err)
	require.Equal(t, 2, st.ChunksIndexed)
	require.Equal(t, 1, st.Errors)
}

func TestReindexDeletesBeforeChunking(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)
	ctx := context.Background()

	_, err := ix.IndexDocument(ctx, paper("2401.00006", 1200))
	require.NoError(t, err)
	store.calls = nil

	st, err := ix.Reindex(ctx, "2401.00006", paper("2401.00006", 50))
	require.NoError(t, err)
	require.Equal(t, 1, st.ChunksIndexed)
	require.Equal(t, []string{"delete:2401.00006", "chunk:2401.00006", "insert"}, store.calls)
	require.Len(t, store.records["2401.00006"], 1)
}

func TestReindexRejectsMismatchedDocument(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)

	_, err := ix.Reindex(context.Background(), "2401.00007", paper("2401.99999", 50))
	require.ErrorIs(t, err, util.ErrValidation)
	require.Empty(t, store.calls)
}

func TestIndexBatchCountsOutcomes(t *testing.T) {
	store := newFakeStore()
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)

	docs := []models.Document{
		paper("2401.00010", 1200),
		paper("2401.00011", 0),
		paper("", 50),
		paper("2401.00012", 50),
	}
	st, err := ix.IndexBatch(context.Background(), docs, true)
	require.NoError(t, err)
	require.Equal(t, 4, st.Documents)
	require.Equal(t, 2, st.Succeeded)
	require.Equal(t, 1, st.Skipped)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, 4, st.ChunksIndexed)
	require.Equal(t, 1, st.Errors)
	require.Len(t, st.Failures, 1)
	require.Equal(t, "NotFoundError", st.Failures[0].Kind)
	require.Contains(t, store.calls, "delete:2401.00010")
}

func TestIndexBatchStorageUnavailable(t *testing.T) {
	store := newFakeStore()
	store.healthy = false
	ix, _ := newTestIndexer(t, &fakeEmbedder{}, store)

	_, err := ix.IndexBatch(context.Background(), []models.Document{paper("2401.00013", 50)}, false)
	require.ErrorIs(t, err, util.ErrStorageUnavailable)
	require.Empty(t, store.calls)
}

func TestRecordIDIsDeterministic(t *testing.T) {
	require.Equal(t, RecordID("2401.00001", 0), RecordID("2401.00001", 0))
	require.NotEqual(t, RecordID("2401.00001", 0), RecordID("2401.00001", 1))
	require.NotEqual(t, RecordID("2401.00001", 0), RecordID("2401.00002", 0))
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Empty(t, km.locks)
}
