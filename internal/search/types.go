// Package search builds hybrid retrieval requests and runs them against a
// pluggable index backend.
package search

import (
	"context"
	"fmt"
	"strconv"

	"paperflow/internal/models"
)

type Target string

const (
	TargetChunks Target = "chunks"
	TargetPapers Target = "papers"
)

const (
	ModeBM25   = "bm25"
	ModeHybrid = "hybrid"

	FusionRRF = "rrf"
)

// Params is a user search as received from the API or CLI.
type Params struct {
	Query          string
	Size           int
	From           int
	Categories     []string
	LatestFirst    bool
	Hybrid         bool
	QueryEmbedding []float32
	Target         Target
	MinScore       float64
}

// Request is a backend-neutral retrieval request. A nil Lexical clause means
// match-all; nil Sort means relevance order.
type Request struct {
	Query          string
	Lexical        *MultiMatch
	Filter         *Terms
	Sort           []SortField
	Vector         *KNN
	Fusion         *Fusion
	Highlight      *Highlight
	SourceExcludes []string
	Size           int
	From           int
	MinScore       float64
	Target         Target
}

func (r Request) Mode() string {
	if r.Vector != nil && r.Fusion != nil {
		return ModeHybrid
	}
	return ModeBM25
}

type FieldBoost struct {
	Field string
	Boost float64
}

func (f FieldBoost) String() string {
	return f.Field + "^" + strconv.FormatFloat(f.Boost, 'f', -1, 64)
}

type MultiMatch struct {
	Query        string
	Fields       []FieldBoost
	Fuzziness    string
	PrefixLength int
	Operator     string
}

type Terms struct {
	Field  string
	Values []string
}

type SortField struct {
	Field string
	Desc  bool
}

type KNN struct {
	Field         string
	Vector        []float32
	K             int
	NumCandidates int
}

type Fusion struct {
	Method       string
	RankConstant int
	WindowSize   int
}

type HighlightField struct {
	Name         string
	FragmentSize int
	Fragments    int
}

type Highlight struct {
	Fields  []HighlightField
	PreTag  string
	PostTag string
}

type Hit struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Record     models.IndexRecord  `json:"record"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

type Result struct {
	Total int   `json:"total"`
	Hits  []Hit `json:"hits"`
}

type BulkResult struct {
	Indexed int      `json:"indexed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

type IndexStats struct {
	Name      string `json:"name"`
	Exists    bool   `json:"exists"`
	Documents int64  `json:"documents"`
	Papers    int64  `json:"papers"`
	SizeBytes int64  `json:"size_bytes"`
}

// Backend is the storage contract shared by the Postgres and SQLite indexes.
type Backend interface {
	// EnsureIndex creates the index if absent and never overwrites one.
	EnsureIndex(ctx context.Context) (created bool, err error)
	BulkInsert(ctx context.Context, records []models.IndexRecord) (BulkResult, error)
	DeleteByDocumentID(ctx context.Context, documentID string) (int64, error)
	Search(ctx context.Context, req Request) (Result, error)
	HealthCheck(ctx context.Context) bool
	Stats(ctx context.Context) (IndexStats, error)
}

// Body renders the request in OpenSearch query DSL, for logs and --explain.
func (r Request) Body() map[string]any {
	var query map[string]any
	if r.Lexical == nil {
		query = map[string]any{"match_all": map[string]any{}}
	} else {
		fields := make([]string, 0, len(r.Lexical.Fields))
		for _, f := range r.Lexical.Fields {
			fields = append(fields, f.String())
		}
		query = map[string]any{"multi_match": map[string]any{
			"query":         r.Lexical.Query,
			"fields":        fields,
			"type":          "best_fields",
			"operator":      r.Lexical.Operator,
			"fuzziness":     r.Lexical.Fuzziness,
			"prefix_length": r.Lexical.PrefixLength,
		}}
	}
	boolQ := map[string]any{"must": []any{query}}
	if r.Filter != nil {
		boolQ["filter"] = []any{map[string]any{"terms": map[string]any{r.Filter.Field: r.Filter.Values}}}
	}
	lexical := map[string]any{"bool": boolQ}

	body := map[string]any{
		"size":    r.Size,
		"from":    r.From,
		"_source": map[string]any{"excludes": r.SourceExcludes},
	}
	if r.Mode() == ModeHybrid {
		knn := map[string]any{"knn": map[string]any{r.Vector.Field: map[string]any{"vector": r.Vector.Vector, "k": r.Vector.K}}}
		body["query"] = map[string]any{"hybrid": map[string]any{"queries": []any{lexical, knn}}}
		body["fusion"] = map[string]any{
			"technique":     r.Fusion.Method,
			"rank_constant": r.Fusion.RankConstant,
			"window_size":   r.Fusion.WindowSize,
		}
	} else {
		body["query"] = lexical
	}
	if len(r.Sort) > 0 {
		sorts := make([]any, 0, len(r.Sort))
		for _, s := range r.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			sorts = append(sorts, map[string]any{s.Field: map[string]any{"order": order}})
		}
		body["sort"] = sorts
	}
	if r.Highlight != nil {
		fields := map[string]any{}
		for _, f := range r.Highlight.Fields {
			fields[f.Name] = map[string]any{"fragment_size": f.FragmentSize, "number_of_fragments": f.Fragments}
		}
		body["highlight"] = map[string]any{"fields": fields, "pre_tags": []string{r.Highlight.PreTag}, "post_tags": []string{r.Highlight.PostTag}}
	}
	if r.MinScore > 0 && r.Mode() != ModeHybrid {
		body["min_score"] = r.MinScore
	}
	return body
}

func (t Target) Validate() error {
	switch t {
	case TargetChunks, TargetPapers:
		return nil
	default:
		return fmt.Errorf("unknown search target %q", string(t))
	}
}
