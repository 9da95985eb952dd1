package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paperflow/internal/metrics"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
)

const (
	snippetRunes       = 300
	paperCollapseRatio = 5
	maxPaperWindow     = 500
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	backend  Backend
	builder  *QueryBuilder
	embedder QueryEmbedder
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// NewService wires the search path. embedder may be nil, which makes every
// hybrid request lexical.
func NewService(backend Backend, builder *QueryBuilder, embedder QueryEmbedder, log zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{backend: backend, builder: builder, embedder: embedder, log: log.With().Str("component", "search").Logger(), metrics: m}
}

type HitView struct {
	ID            string              `json:"id"`
	ArxivID       string              `json:"arxiv_id"`
	Title         string              `json:"title"`
	Authors       []string            `json:"authors"`
	Abstract      string              `json:"abstract"`
	Categories    []string            `json:"categories"`
	PublishedDate time.Time           `json:"published_date"`
	PDFURL        string              `json:"pdf_url,omitempty"`
	ChunkIndex    int                 `json:"chunk_index"`
	SectionTitle  string              `json:"section_title,omitempty"`
	ChunkText     string              `json:"chunk_text,omitempty"`
	Score         float64             `json:"score"`
	Highlights    map[string][]string `json:"highlights,omitempty"`
	Snippet       string              `json:"snippet"`
}

type Response struct {
	Query    string    `json:"query"`
	Mode     string    `json:"search_mode"`
	Target   Target    `json:"target"`
	Total    int       `json:"total"`
	Degraded bool      `json:"degraded,omitempty"`
	TookMS   int64     `json:"took_ms"`
	Hits     []HitView `json:"hits"`
}

func (s *Service) Search(ctx context.Context, p Params) (Response, error) {
	started := time.Now()
	if p.Target == "" {
		p.Target = TargetChunks
	}
	if err := p.Target.Validate(); err != nil {
		return Response{}, &util.ValidationError{Reason: "bad_target", Detail: err.Error()}
	}

	query := strings.TrimSpace(p.Query)
	if p.Hybrid && query != "" && len(p.QueryEmbedding) == 0 && s.embedder != nil {
		emb, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			s.log.Warn().Err(err).Str("query", query).Msg("query embedding failed, searching lexically")
		} else {
			p.QueryEmbedding = emb
		}
	}

	req := s.builder.Build(p)
	degraded := p.Hybrid && query != "" && req.Mode() != ModeHybrid
	if degraded {
		s.metrics.SearchDegraded.Inc()
	}

	backendReq := req
	if req.Target == TargetPapers {
		// Fetch a wider window of chunks and collapse to one hit per paper.
		backendReq.From = 0
		backendReq.Size = min((req.From+req.Size)*paperCollapseRatio, maxPaperWindow)
	}

	res, err := s.backend.Search(ctx, backendReq)
	if err != nil {
		return Response{}, fmt.Errorf("search %s: %w", req.Mode(), err)
	}

	hits, total := res.Hits, res.Total
	if req.Target == TargetPapers {
		collapsed := Collapse(hits)
		total = len(collapsed)
		hits = Page(collapsed, req.From, req.Size)
	}

	out := Response{
		Query:    query,
		Mode:     req.Mode(),
		Target:   req.Target,
		Total:    total,
		Degraded: degraded,
		Hits:     make([]HitView, 0, len(hits)),
	}
	for _, h := range hits {
		out.Hits = append(out.Hits, view(h, req.Target, query))
	}
	took := time.Since(started)
	out.TookMS = took.Milliseconds()

	s.metrics.SearchRequests.WithLabelValues(out.Mode, string(out.Target)).Inc()
	s.metrics.SearchDuration.Observe(took.Seconds())
	s.log.Info().Str("query", query).Str("mode", out.Mode).Str("target", string(out.Target)).
		Int("total", out.Total).Int("returned", len(out.Hits)).Dur("took", took).Msg("search served")
	return out, nil
}

func view(h Hit, target Target, query string) HitView {
	r := h.Record
	v := HitView{
		ID:            h.ID,
		ArxivID:       r.DocumentID,
		Title:         r.Title,
		Authors:       r.Authors,
		Abstract:      r.Abstract,
		Categories:    r.Categories,
		PublishedDate: r.PublishedDate,
		PDFURL:        r.PDFURL,
		ChunkIndex:    r.ChunkIndex,
		SectionTitle:  r.SectionTitle,
		Score:         h.Score,
		Highlights:    h.Highlights,
	}
	if target == TargetChunks {
		v.ChunkText = r.ChunkText
	}
	v.Snippet = snippet(h, target, query)
	return v
}

// snippet prefers a highlight fragment and falls back to the best matching
// sentence of the chunk or abstract.
func snippet(h Hit, target Target, query string) string {
	field, source := FieldChunkText, h.Record.ChunkText
	if target == TargetPapers {
		field, source = FieldAbstract, h.Record.Abstract
	}
	if frags := h.Highlights[field]; len(frags) > 0 {
		return util.StripHighlight(frags[0])
	}
	if query == "" {
		return util.Snippet(source, snippetRunes)
	}
	return util.EvidenceSnippet(source, query, snippetRunes)
}
