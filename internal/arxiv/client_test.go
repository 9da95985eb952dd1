package arxiv

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paperflow/internal/metrics"
	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v2</id>
    <published>2024-01-01T18:00:00Z</published>
    <title>Graph   Neural
      Networks for Retrieval</title>
    <summary>  We study retrieval
      with graphs. </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <arxiv:primary_category term="cs.IR"/>
    <category term="cs.IR"/>
    <category term="cs.LG"/>
    <link href="http://arxiv.org/abs/2401.00001v2" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v2" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <title>No identifier here</title>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/hep-th/9901001v1</id>
    <published>1999-01-01T00:00:00Z</published>
    <title>Old style</title>
    <summary>Strings.</summary>
  </entry>
</feed>`

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:         baseURL,
		DefaultCategory: "cs.AI",
		MaxRetries:      3,
		RetryDelayBase:  5 * time.Second,
		Timeout:         2 * time.Second,
		CacheDir:        t.TempDir(),
	}, zerolog.Nop(), metrics.NewNop(), opts...)
}

func TestSearchBuildsQueryAndParsesFeed(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	docs, err := c.Search(context.Background(), Query{Category: "cs.IR", FromDate: "20240101", ToDate: "20240102"}, Page{Start: 10, MaxResults: 5000})
	require.NoError(t, err)

	require.Contains(t, rawQuery, "search_query=cat:cs.IR%20AND%20submittedDate:[202401010000+TO+202401022359]")
	require.Contains(t, rawQuery, "start=10")
	require.Contains(t, rawQuery, "max_results=2000")
	require.Contains(t, rawQuery, "sortBy=submittedDate&sortOrder=descending")

	require.Len(t, docs, 2)
	d := docs[0]
	require.Equal(t, "2401.00001v2", d.ArxivID)
	require.Equal(t, "Graph Neural Networks for Retrieval", d.Title)
	require.Equal(t, "We study retrieval with graphs.", d.Abstract)
	require.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, d.Authors)
	require.Equal(t, []string{"cs.IR", "cs.LG"}, d.Categories)
	require.Equal(t, "https://arxiv.org/pdf/2401.00001v2", d.PDFURL)
	require.Equal(t, time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC), d.PublishedDate)
	require.Equal(t, "hep-th/9901001v1", docs[1].ArxivID)
}

func TestSearchEmptyFeedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><title>empty</title></feed>`))
	}))
	defer srv.Close()

	docs, err := newTestClient(t, srv.URL).Search(context.Background(), Query{}, Page{})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestSearchMalformedFeedIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed><entry><id>broken`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), Query{}, Page{})
	require.ErrorIs(t, err, util.ErrParse)
	require.NotErrorIs(t, err, util.ErrTransport)
	require.False(t, util.Retryable(err))
}

func TestSearchServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), Query{}, Page{})
	require.ErrorIs(t, err, util.ErrTransport)
	require.NotErrorIs(t, err, util.ErrTimeout)
}

func TestSearchRejectsBadDate(t *testing.T) {
	_, err := newTestClient(t, "http://127.0.0.1:1").Search(context.Background(), Query{FromDate: "2024-01-01"}, Page{})
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestSearchTimeoutIsTimeoutClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.Search(context.Background(), Query{}, Page{})
	require.ErrorIs(t, err, util.ErrTimeout)
	require.ErrorIs(t, err, util.ErrTransport)
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, DefaultCategory: "cs.AI", RateLimitDelay: 80 * time.Millisecond}, zerolog.Nop(), metrics.NewNop())
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), Query{}, Page{})
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestFetchByIDNotFound(t *testing.T) {
	var idList string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idList = r.URL.Query().Get("id_list")
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FetchByID(context.Background(), "2401.99999")
	require.ErrorIs(t, err, util.ErrNotFound)
	require.Equal(t, "2401.99999", idList)
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func TestDownloadRecoversAfterTwoTimeouts(t *testing.T) {
	payload := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), 10<<20)...)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			_, _ = w.Write(payload[:1<<20])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	rec := &recordingSleep{}
	c := newTestClient(t, srv.URL, WithSleep(rec.sleep), WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond}))
	path, err := c.Download(context.Background(), models.Document{ArxivID: "2401.00001", PDFURL: srv.URL + "/pdf/2401.00001"}, false)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.delays)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files from failed attempts must be gone")
}

func TestDownloadExhaustedRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &recordingSleep{}
	c := newTestClient(t, srv.URL, WithSleep(rec.sleep))
	doc := models.Document{ArxivID: "2401.00002", PDFURL: srv.URL + "/pdf"}
	require.NoError(t, os.WriteFile(c.PDFPath(doc.ArxivID), []byte("stale"), 0o644))

	_, err := c.Download(context.Background(), doc, true)
	require.ErrorIs(t, err, util.ErrTimeout)
	require.ErrorIs(t, err, util.ErrTransport)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.delays)
	require.Zero(t, util.FileSize(c.PDFPath(doc.ArxivID)))
}

func TestDownloadNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec := &recordingSleep{}
	_, err := newTestClient(t, srv.URL, WithSleep(rec.sleep)).Download(context.Background(), models.Document{ArxivID: "x", PDFURL: srv.URL}, false)
	require.ErrorIs(t, err, util.ErrNotFound)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, rec.delays)
}

func TestDownloadUsesCache(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	doc := models.Document{ArxivID: "cs/0101001", PDFURL: "http://127.0.0.1:1/pdf"}
	require.True(t, strings.HasSuffix(c.PDFPath(doc.ArxivID), "cs_0101001.pdf"))
	require.NoError(t, os.WriteFile(c.PDFPath(doc.ArxivID), []byte("%PDF-1.4"), 0o644))

	path, err := c.Download(context.Background(), doc, false)
	require.NoError(t, err)
	require.Equal(t, c.PDFPath(doc.ArxivID), path)
}

func TestCleanCache(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	old := c.PDFPath("old")
	require.NoError(t, os.WriteFile(old, []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(c.PDFPath("new"), []byte("%PDF"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := c.CleanCache(24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Zero(t, util.FileSize(old))
}

func TestEscapeQueryKeepsSearchSyntax(t *testing.T) {
	require.Equal(t, "cat:cs.AI%20AND%20submittedDate:[202401010000+TO+202401012359]",
		escapeQuery("cat:cs.AI AND submittedDate:[202401010000+TO+202401012359]"))
	require.Equal(t, "a%26b%3Dc", escapeQuery("a&b=c"))
}
