package storage

import (
	"fmt"
	"math"
	"strings"

	"paperflow/internal/search"
)

// tsvector weight letters per indexed field; ts_rank takes weights as {D, C, B, A}.
var fieldWeightLetter = map[string]int{
	search.FieldChunkText: 3,
	search.FieldTitle:     2,
	search.FieldAbstract:  1,
	search.FieldAuthors:   0,
}

const recordColumns = `id::text AS id, arxiv_id, chunk_index, chunk_text, chunk_word_count, start_char, end_char,
       overlap_prev, overlap_next, COALESCE(section_title,'') AS section_title, embedding_model, title, authors, abstract,
       categories, published_date, pdf_url, indexed_at`

// selectQuery accumulates positional arguments while a statement is assembled.
type selectQuery struct {
	args []any
}

func (q *selectQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// rankWeights normalizes field boosts into the ts_rank weight array.
func rankWeights(fields []search.FieldBoost) []float32 {
	w := make([]float32, 4)
	top := 0.0
	for _, f := range fields {
		top = math.Max(top, f.Boost)
	}
	if top == 0 {
		return []float32{0.1, 0.2, 0.4, 1}
	}
	for _, f := range fields {
		if i, ok := fieldWeightLetter[f.Field]; ok {
			w[i] = float32(f.Boost / top)
		}
	}
	return w
}

// tsQueryExpr matches any term of the query, like an "or" multi_match.
func tsQueryExpr(placeholder, operator string) string {
	if operator == "and" {
		return "plainto_tsquery('english', " + placeholder + ")"
	}
	return "NULLIF(replace(plainto_tsquery('english', " + placeholder + ")::text, '&', '|'), '')::tsquery"
}

func headlineOptions(f search.HighlightField, pre, post string) string {
	opts := fmt.Sprintf("StartSel=%s, StopSel=%s", pre, post)
	if f.FragmentSize <= 0 {
		return opts + ", HighlightAll=true"
	}
	maxWords := max(f.FragmentSize/6, 10)
	return opts + fmt.Sprintf(", MaxFragments=%d, MaxWords=%d, MinWords=%d, FragmentDelimiter=\" ... \"", max(f.Fragments, 1), maxWords, maxWords/3)
}

func highlightSource(field string) string {
	if field == search.FieldAuthors {
		return "array_to_string(authors, ', ')"
	}
	return field
}

func orderClause(sort []search.SortField) string {
	if len(sort) == 0 {
		return "score DESC, arxiv_id, chunk_index"
	}
	parts := make([]string, 0, len(sort)+2)
	for _, s := range sort {
		col := s.Field
		if col == search.FieldScore {
			col = "score"
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC NULLS LAST"
		}
		parts = append(parts, col+" "+dir)
	}
	return strings.Join(append(parts, "arxiv_id", "chunk_index"), ", ")
}

// buildLexicalSelect renders the lexical (or match-all) side of a request:
// records with score, one highlight column per highlight field, then the total
// count of matching rows before paging.
// ids restricts the scan to those records.
func buildLexicalSelect(table string, req search.Request, limit, offset int, ids []string) (string, []any) {
	var q selectQuery
	var where []string

	score := "0::float8"
	tsq := ""
	if req.Lexical != nil {
		tsq = tsQueryExpr(q.arg(req.Lexical.Query), req.Lexical.Operator)
		score = fmt.Sprintf("COALESCE(ts_rank(%s::float4[], search_tsv, %s), 0)::float8", q.arg(rankWeights(req.Lexical.Fields)), tsq)
		if ids == nil {
			where = append(where, "search_tsv @@ "+tsq)
		}
	}
	if req.Filter != nil && len(req.Filter.Values) > 0 {
		where = append(where, fmt.Sprintf("%s && %s", req.Filter.Field, q.arg(req.Filter.Values)))
	}
	if ids != nil {
		where = append(where, "id = ANY("+q.arg(ids)+"::uuid[])")
	}

	cols := []string{recordColumns, score + " AS score"}
	if req.Highlight != nil && tsq != "" {
		for i, f := range req.Highlight.Fields {
			cols = append(cols, fmt.Sprintf("ts_headline('english', %s, %s, %s) AS hl_%d",
				highlightSource(f.Name), tsq, q.arg(headlineOptions(f, req.Highlight.PreTag, req.Highlight.PostTag)), i))
		}
	}

	sql := "SELECT " + strings.Join(cols, ",\n       ") + "\nFROM " + table
	if len(where) > 0 {
		sql += "\nWHERE " + strings.Join(where, " AND ")
	}
	sql = "SELECT ranked.*, count(*) OVER () AS total FROM (\n" + sql + "\n) ranked"
	if req.MinScore > 0 && req.Vector == nil {
		sql += " WHERE score >= " + q.arg(req.MinScore)
	}
	sql += "\nORDER BY " + orderClause(req.Sort)
	if limit > 0 {
		sql += "\nLIMIT " + q.arg(limit)
	}
	if offset > 0 {
		sql += " OFFSET " + q.arg(offset)
	}
	return sql, q.args
}

func createIndexSQL(table, rawName string, dim int) []string {
	idx := func(suffix string) string { return quoteIdent(rawName + "_" + suffix) }
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id               UUID PRIMARY KEY,
  arxiv_id         TEXT NOT NULL,
  chunk_index      INT NOT NULL,
  chunk_text       TEXT NOT NULL,
  chunk_word_count INT NOT NULL DEFAULT 0,
  start_char       INT NOT NULL DEFAULT 0,
  end_char         INT NOT NULL DEFAULT 0,
  overlap_prev     INT NOT NULL DEFAULT 0,
  overlap_next     INT NOT NULL DEFAULT 0,
  section_title    TEXT,
  embedding        vector(%d),
  embedding_model  TEXT NOT NULL DEFAULT '',
  title            TEXT NOT NULL DEFAULT '',
  authors          TEXT[] NOT NULL DEFAULT '{}',
  abstract         TEXT NOT NULL DEFAULT '',
  categories       TEXT[] NOT NULL DEFAULT '{}',
  published_date   TIMESTAMPTZ,
  pdf_url          TEXT NOT NULL DEFAULT '',
  indexed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  search_tsv       tsvector GENERATED ALWAYS AS (
    setweight(to_tsvector('english', coalesce(chunk_text, '')), 'A') ||
    setweight(to_tsvector('english', coalesce(title, '')), 'B') ||
    setweight(to_tsvector('english', coalesce(abstract, '')), 'C') ||
    setweight(to_tsvector('simple', array_to_string(authors, ' ')), 'D')
  ) STORED,
  UNIQUE (arxiv_id, chunk_index)
)`, table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (search_tsv)`, idx("tsv"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (categories)`, idx("categories"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (published_date DESC)`, idx("published"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, idx("embedding"), table),
	}
}
