// Package metrics holds the Prometheus collectors for the ingestion and search paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ArxivRequests    *prometheus.CounterVec
	DownloadAttempts *prometheus.CounterVec
	ParseOutcomes    *prometheus.CounterVec
	ChunksCreated    prometheus.Counter
	ChunksIndexed    prometheus.Counter
	EmbeddingBatches *prometheus.CounterVec
	IndexedDocuments *prometheus.CounterVec
	SearchRequests   *prometheus.CounterVec
	SearchDegraded   prometheus.Counter
	SearchDuration   prometheus.Histogram
}

// New registers every collector on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ArxivRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_arxiv_requests_total",
			Help: "Requests issued to the arXiv API.",
		}, []string{"op", "status"}),
		DownloadAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_pdf_download_attempts_total",
			Help: "PDF download attempts by result.",
		}, []string{"result"}),
		ParseOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_pdf_parse_total",
			Help: "PDF parse results by outcome.",
		}, []string{"outcome"}),
		ChunksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "paperflow_chunks_created_total",
			Help: "Chunks produced by the chunker.",
		}),
		ChunksIndexed: f.NewCounter(prometheus.CounterOpts{
			Name: "paperflow_chunks_indexed_total",
			Help: "Chunks stored in the search index.",
		}),
		EmbeddingBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_embedding_batches_total",
			Help: "Embedding provider calls by task and status.",
		}, []string{"task", "status"}),
		IndexedDocuments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_index_documents_total",
			Help: "Documents processed by the indexer by outcome.",
		}, []string{"outcome"}),
		SearchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_search_requests_total",
			Help: "Search requests by effective mode and target.",
		}, []string{"mode", "target"}),
		SearchDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "paperflow_search_degraded_total",
			Help: "Hybrid searches that fell back to lexical only.",
		}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "paperflow_search_duration_seconds",
			Help:    "Search latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewNop returns collectors bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
