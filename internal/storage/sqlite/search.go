package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"paperflow/internal/search"
	"paperflow/internal/vector"
)

// maxCandidates bounds the rows a lexical or match-all query loads before
// sorting and paging in Go.
const maxCandidates = 10000

// ftsColumns is the column order of records_fts.
var ftsColumns = map[string]int{
	search.FieldChunkText: 0,
	search.FieldTitle:     1,
	search.FieldAbstract:  2,
	search.FieldAuthors:   3,
}

const recordColumns = `r.id, r.arxiv_id, r.chunk_index, r.chunk_text, r.chunk_word_count, r.start_char, r.end_char,
		r.overlap_prev, r.overlap_next, r.section_title, r.embedding_model, r.title, r.authors, r.abstract,
		r.categories, r.published_date, r.pdf_url, r.indexed_at`

var termPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// matchExpr turns free text into an FTS5 query of prefix terms. Terms shorter
// than two runes are dropped.
func matchExpr(query, operator string) string {
	var terms []string
	for _, t := range termPattern.FindAllString(strings.ToLower(query), -1) {
		if len([]rune(t)) < 2 {
			continue
		}
		terms = append(terms, `"`+t+`"*`)
	}
	joiner := " OR "
	if operator == "and" {
		joiner = " AND "
	}
	return strings.Join(terms, joiner)
}

func bm25Weights(fields []search.FieldBoost) []float64 {
	w := make([]float64, len(ftsColumns))
	for _, f := range fields {
		if i, ok := ftsColumns[f.Field]; ok {
			w[i] = f.Boost
		}
	}
	return w
}

func highlightExpr(f search.HighlightField) (string, bool) {
	col, ok := ftsColumns[f.Name]
	if !ok {
		return "", false
	}
	if f.FragmentSize <= 0 {
		return fmt.Sprintf("highlight(records_fts, %d, ?, ?)", col), true
	}
	tokens := min(max(f.FragmentSize/6, 1), 64)
	return fmt.Sprintf("snippet(records_fts, %d, ?, ?, '...', %d)", col, tokens), true
}

func categoryFilter(req search.Request, args []any) (string, []any) {
	if req.Filter == nil || len(req.Filter.Values) == 0 {
		return "", args
	}
	marks := make([]string, len(req.Filter.Values))
	for i, v := range req.Filter.Values {
		marks[i] = "?"
		args = append(args, v)
	}
	return "EXISTS (SELECT 1 FROM json_each(r.categories) WHERE json_each.value IN (" + strings.Join(marks, ", ") + "))", args
}

func (x *Index) Search(ctx context.Context, req search.Request) (search.Result, error) {
	if req.Lexical == nil {
		hits, err := x.matchAll(ctx, req)
		if err != nil {
			return search.Result{}, err
		}
		return search.Finalize(hits, req), nil
	}

	limit := maxCandidates
	if req.Mode() == search.ModeHybrid {
		limit = req.Fusion.WindowSize
	}
	lexical, err := x.lexical(ctx, req, limit)
	if err != nil {
		return search.Result{}, err
	}
	if req.Mode() != search.ModeHybrid {
		return search.Finalize(lexical, req), nil
	}

	nearest, err := x.nearest(ctx, req)
	if err != nil {
		return search.Result{}, err
	}
	hits, err := x.fuse(ctx, req, lexical, nearest)
	if err != nil {
		return search.Result{}, err
	}
	return search.Finalize(hits, req), nil
}

func (x *Index) matchAll(ctx context.Context, req search.Request) ([]search.Hit, error) {
	var args []any
	q := "SELECT " + recordColumns + ", 0.0 FROM records r"
	if filter, a := categoryFilter(req, args); filter != "" {
		q += " WHERE " + filter
		args = a
	}
	q += " ORDER BY r.published_date DESC, r.arxiv_id, r.chunk_index LIMIT ?"
	args = append(args, maxCandidates)
	return x.queryHits(ctx, q, args, nil, "")
}

func (x *Index) lexical(ctx context.Context, req search.Request, limit int) ([]search.Hit, error) {
	match := matchExpr(req.Lexical.Query, req.Lexical.Operator)
	if match == "" {
		return []search.Hit{}, nil
	}

	var args []any
	cols := recordColumns + ", -bm25(records_fts, ?, ?, ?, ?)"
	for _, w := range bm25Weights(req.Lexical.Fields) {
		args = append(args, w)
	}
	var fields []search.HighlightField
	if req.Highlight != nil {
		for _, f := range req.Highlight.Fields {
			expr, ok := highlightExpr(f)
			if !ok {
				continue
			}
			cols += ", " + expr
			args = append(args, req.Highlight.PreTag, req.Highlight.PostTag)
			fields = append(fields, f)
		}
	}

	q := "SELECT " + cols + " FROM records_fts JOIN records r ON r.rowid = records_fts.rowid WHERE records_fts MATCH ?"
	args = append(args, match)
	if filter, a := categoryFilter(req, args); filter != "" {
		q += " AND " + filter
		args = a
	}
	q += " ORDER BY bm25(records_fts, ?, ?, ?, ?) LIMIT ?"
	for _, w := range bm25Weights(req.Lexical.Fields) {
		args = append(args, w)
	}
	args = append(args, limit)

	pre := ""
	if req.Highlight != nil {
		pre = req.Highlight.PreTag
	}
	return x.queryHits(ctx, q, args, fields, pre)
}

type scored struct {
	id    string
	score float64
}

// nearest ranks every stored embedding by cosine similarity to the query vector.
func (x *Index) nearest(ctx context.Context, req search.Request) ([]string, error) {
	var args []any
	q := "SELECT r.id, r.embedding FROM records r WHERE r.embedding IS NOT NULL"
	if filter, a := categoryFilter(req, args); filter != "" {
		q += " AND " + filter
		args = a
	}
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer rows.Close()

	var all []scored
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		emb := vector.Decode(blob)
		if len(emb) != len(req.Vector.Vector) {
			continue
		}
		all = append(all, scored{id: id, score: vector.Cosine(req.Vector.Vector, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if k := req.Vector.K; k > 0 && len(all) > k {
		all = all[:k]
	}
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids, nil
}

func (x *Index) fuse(ctx context.Context, req search.Request, lexical []search.Hit, nearest []string) ([]search.Hit, error) {
	byID := make(map[string]search.Hit, len(lexical))
	lexIDs := make([]string, len(lexical))
	for i, h := range lexical {
		lexIDs[i] = h.ID
		byID[h.ID] = h
	}
	fused := search.FuseRRF(req.Fusion.RankConstant, lexIDs, nearest)
	if w := req.Fusion.WindowSize; w > 0 && len(fused) > w {
		fused = fused[:w]
	}

	var missing []string
	for _, f := range fused {
		if _, ok := byID[f.ID]; !ok {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) > 0 {
		extra, err := x.byIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, h := range extra {
			byID[h.ID] = h
		}
	}

	hits := make([]search.Hit, 0, len(fused))
	for _, f := range fused {
		h, ok := byID[f.ID]
		if !ok {
			continue
		}
		h.Score = f.Score
		hits = append(hits, h)
	}
	return hits, nil
}

func (x *Index) byIDs(ctx context.Context, ids []string) ([]search.Hit, error) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	q := "SELECT " + recordColumns + ", 0.0 FROM records r WHERE r.id IN (" + strings.Join(marks, ", ") + ")"
	return x.queryHits(ctx, q, args, nil, "")
}

func (x *Index) queryHits(ctx context.Context, q string, args []any, fields []search.HighlightField, pre string) ([]search.Hit, error) {
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", x.name, err)
	}
	defer rows.Close()

	hits := make([]search.Hit, 0)
	for rows.Next() {
		h, err := scanHit(rows, fields, pre)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

func scanHit(rows *sql.Rows, fields []search.HighlightField, pre string) (search.Hit, error) {
	var (
		h                    search.Hit
		authors, categories  string
		published, indexedAt string
	)
	r := &h.Record
	highlights := make([]sql.NullString, len(fields))
	dest := []any{&r.ID, &r.DocumentID, &r.ChunkIndex, &r.ChunkText, &r.ChunkWordCount, &r.StartChar, &r.EndChar,
		&r.OverlapPrev, &r.OverlapNext, &r.SectionTitle, &r.EmbeddingModel, &r.Title, &authors, &r.Abstract,
		&categories, &published, &r.PDFURL, &indexedAt, &h.Score}
	for i := range highlights {
		dest = append(dest, &highlights[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return search.Hit{}, fmt.Errorf("scan hit: %w", err)
	}
	if err := json.Unmarshal([]byte(authors), &r.Authors); err != nil {
		return search.Hit{}, fmt.Errorf("decode authors of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
		return search.Hit{}, fmt.Errorf("decode categories of %s: %w", r.ID, err)
	}
	r.PublishedDate = parseTime(published)
	r.IndexedAt = parseTime(indexedAt)
	h.ID = r.ID
	for i, f := range fields {
		if hl := highlights[i]; hl.Valid && pre != "" && strings.Contains(hl.String, pre) {
			if h.Highlights == nil {
				h.Highlights = map[string][]string{}
			}
			h.Highlights[f.Name] = []string{hl.String}
		}
	}
	return h, nil
}
