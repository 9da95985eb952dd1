package search

import (
	"strings"

	"github.com/rs/zerolog"
)

const (
	DefaultSize = 10
	MaxSize     = 100

	FieldChunkText     = "chunk_text"
	FieldTitle         = "title"
	FieldAbstract      = "abstract"
	FieldAuthors       = "authors"
	FieldCategories    = "categories"
	FieldPublishedDate = "published_date"
	FieldEmbedding     = "embedding"
	FieldScore         = "_score"

	HighlightPreTag  = "<mark>"
	HighlightPostTag = "</mark>"
)

var (
	chunkFields = []FieldBoost{{FieldChunkText, 3}, {FieldTitle, 2}, {FieldAbstract, 1}}
	paperFields = []FieldBoost{{FieldTitle, 3}, {FieldAbstract, 2}, {FieldAuthors, 1}}

	recencySort = []SortField{{Field: FieldPublishedDate, Desc: true}, {Field: FieldScore, Desc: true}}
)

type BuilderOptions struct {
	RankConstant int
	VectorK      int
}

// QueryBuilder turns search parameters into a Request. It does no I/O.
type QueryBuilder struct {
	opts BuilderOptions
	log  zerolog.Logger
}

func NewQueryBuilder(opts BuilderOptions, log zerolog.Logger) *QueryBuilder {
	if opts.RankConstant <= 0 {
		opts.RankConstant = 60
	}
	if opts.VectorK <= 0 {
		opts.VectorK = 100
	}
	return &QueryBuilder{opts: opts, log: log.With().Str("component", "query_builder").Logger()}
}

func (b *QueryBuilder) Build(p Params) Request {
	query := strings.Join(strings.Fields(p.Query), " ")
	target := p.Target
	if target == "" {
		target = TargetChunks
	}
	req := Request{
		Query:          query,
		Size:           ClampSize(p.Size),
		From:           max(p.From, 0),
		MinScore:       max(p.MinScore, 0),
		Target:         target,
		SourceExcludes: []string{FieldEmbedding},
	}

	if query != "" {
		fields := chunkFields
		if target == TargetPapers {
			fields = paperFields
		}
		req.Lexical = &MultiMatch{
			Query:        query,
			Fields:       append([]FieldBoost(nil), fields...),
			Fuzziness:    "AUTO",
			PrefixLength: 2,
			Operator:     "or",
		}
		req.Highlight = highlightFor(target)
	}

	if cats := cleanCategories(p.Categories); len(cats) > 0 {
		req.Filter = &Terms{Field: FieldCategories, Values: cats}
	}

	// An empty query has no relevance signal, so it is always recency ordered.
	if p.LatestFirst || query == "" {
		req.Sort = append([]SortField(nil), recencySort...)
	}

	if p.Hybrid {
		switch {
		case query == "":
			b.log.Debug().Msg("hybrid search without query text, using lexical only")
		case len(p.QueryEmbedding) == 0:
			b.log.Warn().Str("query", query).Msg("hybrid search without query embedding, degrading to lexical")
		default:
			window := max(b.opts.VectorK, req.From+req.Size)
			req.Vector = &KNN{Field: FieldEmbedding, Vector: p.QueryEmbedding, K: window, NumCandidates: 2 * window}
			req.Fusion = &Fusion{Method: FusionRRF, RankConstant: b.opts.RankConstant, WindowSize: window}
		}
	}
	return req
}

// ClampSize maps non-positive sizes to the default and caps the rest.
func ClampSize(n int) int {
	switch {
	case n <= 0:
		return DefaultSize
	case n > MaxSize:
		return MaxSize
	default:
		return n
	}
}

func highlightFor(target Target) *Highlight {
	h := &Highlight{PreTag: HighlightPreTag, PostTag: HighlightPostTag}
	if target == TargetPapers {
		h.Fields = []HighlightField{
			{Name: FieldTitle, FragmentSize: 0, Fragments: 0},
			{Name: FieldAbstract, FragmentSize: 150, Fragments: 3},
			{Name: FieldAuthors, FragmentSize: 0, Fragments: 0},
		}
		return h
	}
	h.Fields = []HighlightField{{Name: FieldChunkText, FragmentSize: 150, Fragments: 3}}
	return h
}

func cleanCategories(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
