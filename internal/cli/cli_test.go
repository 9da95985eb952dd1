package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"paperflow/internal/config"
	"paperflow/internal/indexing"
	"paperflow/internal/models"
	"paperflow/internal/search"
	"paperflow/internal/storage"
	"paperflow/internal/util"
	"paperflow/internal/workflows"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

type fakeSearch struct{ got search.Params }

func (f *fakeSearch) Search(_ context.Context, p search.Params) (search.Response, error) {
	f.got = p
	return search.Response{Query: p.Query, Mode: search.ModeHybrid, Total: 1, Hits: []search.HitView{{
		ArxivID: "2401.00001", Title: "Sparse Attention", SectionTitle: "Methods", Score: 0.032, Snippet: "we use <em>sparse</em> attention",
	}}}, nil
}

type fakeIndex struct {
	stats   search.IndexStats
	created bool
}

func (f *fakeIndex) EnsureIndex(context.Context) (bool, error)          { return f.created, nil }
func (f *fakeIndex) Stats(context.Context) (search.IndexStats, error) { return f.stats, nil }

type fakeFetcher struct{ removed int }

func (f *fakeFetcher) FetchByID(_ context.Context, id string) (models.Document, error) {
	return models.Document{ArxivID: id, Title: "Refreshed"}, nil
}

func (f *fakeFetcher) CleanCache(time.Duration, time.Time) (int, error) { return f.removed, nil }

type fakeReindexer struct{ ids []string }

func (f *fakeReindexer) Reindex(_ context.Context, id string, doc models.Document) (indexing.Stats, error) {
	f.ids = append(f.ids, id)
	if doc.RawText == "" {
		return indexing.Stats{}, &util.ValidationError{Reason: util.ValidationNoContent}
	}
	return indexing.Stats{ChunksCreated: 3, ChunksIndexed: 3, EmbeddingsGenerated: 3}, nil
}

type harness struct {
	rt       *Runtime
	search   *fakeSearch
	index    *fakeIndex
	reindex  *fakeReindexer
	temporal *mocks.Client
	closed   bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	papers, err := storage.NewFilePaperStore(t.TempDir())
	require.NoError(t, err)
	h := &harness{
		search:   &fakeSearch{},
		index:    &fakeIndex{stats: search.IndexStats{Name: "arxiv-papers-chunks", Exists: true, Documents: 30, Papers: 4, SizeBytes: 3 << 20}},
		reindex:  &fakeReindexer{},
		temporal: &mocks.Client{},
	}
	h.rt = &Runtime{
		Config:  config.Load(),
		Search:  h.search,
		Builder: search.NewQueryBuilder(search.BuilderOptions{}, zerolog.Nop()),
		Index:   h.index,
		Papers:  papers,
		Fetcher: &fakeFetcher{removed: 2},
		Indexer: h.reindex,
		Workflows: func() (WorkflowStarter, error) {
			return h.temporal, nil
		},
		Close: func() { h.closed = true },
	}
	return h
}

func (h *harness) run(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root := NewRootCmd(func(context.Context) (*Runtime, error) { return h.rt, nil })
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestSetupReportsCreation(t *testing.T) {
	h := newHarness(t)
	h.index.created = true
	out, err := h.run("setup")
	require.NoError(t, err)
	assert.Contains(t, out, "created")
	assert.True(t, h.closed)

	h.index.created = false
	out, err = h.run("setup")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestSearchPassesFlags(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("search", "sparse attention", "-n", "5", "--from", "5", "-c", "cs.LG,cs.AI", "--hybrid", "--latest", "--target", "papers", "--min-score", "0.01")
	require.NoError(t, err)

	assert.Equal(t, search.Params{
		Query:       "sparse attention",
		Size:        5,
		From:        5,
		Categories:  []string{"cs.LG", "cs.AI"},
		LatestFirst: true,
		Hybrid:      true,
		Target:      search.TargetPapers,
		MinScore:    0.01,
	}, h.search.got)
	assert.Contains(t, out, "[1] Sparse Attention (0.032)")
	assert.Contains(t, out, "section: Methods")
}

func TestSearchExplainPrintsQueryBody(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("search", "graph networks", "--explain", "-c", "cs.LG")
	require.NoError(t, err)
	assert.Contains(t, out, "multi_match")
	assert.Contains(t, out, "cs.LG")
	assert.Empty(t, h.search.got.Query)
}

func TestSearchRejectsTwoArgs(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("search", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts at most 1 arg(s)")
}

func TestStatsAndVerify(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "chunks:     30")
	assert.Contains(t, out, "3.0 MiB")

	out, err = h.run("verify")
	require.NoError(t, err)
	assert.Contains(t, out, "7.5 chunks per paper")

	h.index.stats.Documents = 0
	_, err = h.run("verify")
	require.Error(t, err)

	h.index.stats.Exists = false
	_, err = h.run("verify")
	require.ErrorContains(t, err, "paperctl setup")
}

func TestCacheClean(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("cache", "clean", "--max-age", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 cached PDFs")
}

func TestIngestStartsWorkflowWithDefaults(t *testing.T) {
	h := newHarness(t)
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("ingest-r1")
	run.On("GetRunID").Return("abc")
	h.temporal.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o tclient.StartWorkflowOptions) bool { return o.ID == "ingest-r1" }),
		mock.Anything,
		workflows.IngestInput{RunID: "r1", Category: "cs.AI", FromDate: "20240101", MaxResults: 100, MaxConcurrentChildren: 3},
	).Return(run, nil)

	out, err := h.run("ingest", "--run-id", "r1", "--from", "20240101")
	require.NoError(t, err)
	assert.Contains(t, out, "ingest r1 started (workflow ingest-r1, run abc)")
	h.temporal.AssertExpectations(t)
}

func TestReindexLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.rt.Papers.UpsertPaper(ctx, models.Document{ArxivID: "2401.00001", Title: "A"}))
	doc := models.Document{ArxivID: "2401.00001", Title: "A", RawText: "body"}
	require.NoError(t, h.rt.Papers.SaveParsedContent(ctx, doc))
	require.NoError(t, h.rt.Papers.UpsertPaper(ctx, models.Document{ArxivID: "2401.00002", Title: "B"}))

	out, err := h.run("reindex", "--local", "2401.00001", "2401.00002")
	require.NoError(t, err)
	assert.Contains(t, out, "2401.00001: 3/3 chunks indexed")
	assert.Contains(t, out, "2401.00002: skipped")
	assert.Equal(t, []string{"2401.00001", "2401.00002"}, h.reindex.ids)

	_, err = h.run("reindex", "--local", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 papers failed")
}

func TestReindexLocalRefreshesMetadata(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("reindex", "--local", "--refresh", "2401.00007")
	require.NoError(t, err)

	doc, err := h.rt.Papers.GetPaper(context.Background(), "2401.00007")
	require.NoError(t, err)
	assert.Equal(t, "Refreshed", doc.Title)
}

func TestOpenErrorIsReturned(t *testing.T) {
	root := NewRootCmd(func(context.Context) (*Runtime, error) { return nil, errors.New("no database") })
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"stats"})
	require.EqualError(t, root.Execute(), "no database")
}
