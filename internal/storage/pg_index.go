package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paperflow/internal/models"
	"paperflow/internal/search"
	"paperflow/internal/vector"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

type PGIndexOptions struct {
	Name      string
	Dimension int
}

// PGIndex is the Postgres chunk index: a tsvector column for lexical scoring and
// a pgvector column for nearest-neighbour search, fused with RRF.
type PGIndex struct {
	db      *DB
	name    string
	table   string
	dim     int
	vectors *vector.Searcher
	log     zerolog.Logger
}

var _ search.Backend = (*PGIndex)(nil)

func NewPGIndex(db *DB, opts PGIndexOptions, log zerolog.Logger) *PGIndex {
	return &PGIndex{
		db:      db,
		name:    opts.Name,
		table:   quoteIdent(opts.Name),
		dim:     opts.Dimension,
		vectors: vector.NewSearcher(db.Pool, opts.Name),
		log:     log.With().Str("component", "pg_index").Str("index", opts.Name).Logger(),
	}
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (x *PGIndex) exists(ctx context.Context) (bool, error) {
	var ok bool
	if err := x.db.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, x.table).Scan(&ok); err != nil {
		return false, fmt.Errorf("check index %s: %w", x.name, err)
	}
	return ok, nil
}

func (x *PGIndex) EnsureIndex(ctx context.Context) (bool, error) {
	ok, err := x.exists(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	tx, err := x.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx create index: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, stmt := range createIndexSQL(x.table, x.name, x.dim) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return false, fmt.Errorf("create index %s: %w", x.name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit create index: %w", err)
	}
	x.log.Info().Int("dimension", x.dim).Msg("index created")
	return true, nil
}

// BulkInsert upserts records one statement at a time so a bad record fails alone.
func (x *PGIndex) BulkInsert(ctx context.Context, records []models.IndexRecord) (search.BulkResult, error) {
	var res search.BulkResult
	if len(records) == 0 {
		return res, nil
	}
	stmt := `
INSERT INTO ` + x.table + ` (id, arxiv_id, chunk_index, chunk_text, chunk_word_count, start_char, end_char,
  overlap_prev, overlap_next, section_title, embedding, embedding_model, title, authors, abstract, categories,
  published_date, pdf_url, indexed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10,''), $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (id)
DO UPDATE SET
  chunk_text = EXCLUDED.chunk_text,
  chunk_word_count = EXCLUDED.chunk_word_count,
  start_char = EXCLUDED.start_char,
  end_char = EXCLUDED.end_char,
  overlap_prev = EXCLUDED.overlap_prev,
  overlap_next = EXCLUDED.overlap_next,
  section_title = EXCLUDED.section_title,
  embedding = EXCLUDED.embedding,
  embedding_model = EXCLUDED.embedding_model,
  title = EXCLUDED.title,
  authors = EXCLUDED.authors,
  abstract = EXCLUDED.abstract,
  categories = EXCLUDED.categories,
  published_date = EXCLUDED.published_date,
  pdf_url = EXCLUDED.pdf_url,
  indexed_at = EXCLUDED.indexed_at`

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var emb any
		if len(r.Embedding) > 0 {
			emb = pgvector.NewVector(r.Embedding)
		}
		_, err := x.db.Pool.Exec(ctx, stmt,
			r.ID, r.DocumentID, r.ChunkIndex, r.ChunkText, r.ChunkWordCount, r.StartChar, r.EndChar,
			r.OverlapPrev, r.OverlapNext, r.SectionTitle, emb, r.EmbeddingModel, r.Title, nonNil(r.Authors),
			r.Abstract, nonNil(r.Categories), nullTime(r.PublishedDate), r.PDFURL, r.IndexedAt,
		)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s#%d: %v", r.DocumentID, r.ChunkIndex, err))
			continue
		}
		res.Indexed++
	}
	return res, nil
}

func (x *PGIndex) DeleteByDocumentID(ctx context.Context, documentID string) (int64, error) {
	tag, err := x.db.Pool.Exec(ctx, `DELETE FROM `+x.table+` WHERE arxiv_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete records of %s: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}

func (x *PGIndex) Search(ctx context.Context, req search.Request) (search.Result, error) {
	if req.Mode() == search.ModeHybrid {
		return x.searchHybrid(ctx, req)
	}
	sql, args := buildLexicalSelect(x.table, req, req.Size, req.From, nil)
	hits, total, err := x.queryHits(ctx, req, sql, args)
	if err != nil {
		return search.Result{}, err
	}
	return search.Result{Total: int(total), Hits: hits}, nil
}

func (x *PGIndex) searchHybrid(ctx context.Context, req search.Request) (search.Result, error) {
	window := req.Fusion.WindowSize

	ranking := req
	ranking.Sort, ranking.Highlight, ranking.MinScore = nil, nil, 0
	sql, args := buildLexicalSelect(x.table, ranking, window, 0, nil)
	lexical, _, err := x.queryHits(ctx, ranking, sql, args)
	if err != nil {
		return search.Result{}, err
	}

	var filters vector.Filters
	if req.Filter != nil {
		filters.Categories = req.Filter.Values
	}
	nearest, err := x.vectors.Nearest(ctx, req.Vector.Vector, req.Vector.K, filters)
	if err != nil {
		return search.Result{}, err
	}

	lexIDs := make([]string, len(lexical))
	for i, h := range lexical {
		lexIDs[i] = h.ID
	}
	vecIDs := make([]string, len(nearest))
	for i, m := range nearest {
		vecIDs[i] = m.ID
	}
	fused := search.FuseRRF(req.Fusion.RankConstant, lexIDs, vecIDs)
	if len(fused) > window {
		fused = fused[:window]
	}
	if len(fused) == 0 {
		return search.Result{Hits: []search.Hit{}}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	detail := req
	detail.Sort, detail.MinScore = nil, 0
	sql, args = buildLexicalSelect(x.table, detail, 0, 0, ids)
	rows, _, err := x.queryHits(ctx, detail, sql, args)
	if err != nil {
		return search.Result{}, err
	}
	byID := make(map[string]search.Hit, len(rows))
	for _, h := range rows {
		byID[h.ID] = h
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
	x.log.Debug().Int("lexical", len(lexIDs)).Int("vector", len(vecIDs)).Int("fused", len(hits)).Msg("hybrid search")
	return search.Finalize(hits, req), nil
}

func (x *PGIndex) queryHits(ctx context.Context, req search.Request, sql string, args []any) ([]search.Hit, int64, error) {
	rows, err := x.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search %s: %w", x.name, err)
	}
	defer rows.Close()

	var fields []search.HighlightField
	if req.Highlight != nil && req.Lexical != nil {
		fields = req.Highlight.Fields
	}
	var total int64
	hits := make([]search.Hit, 0)
	for rows.Next() {
		var (
			h         search.Hit
			published *time.Time
		)
		r := &h.Record
		highlights := make([]*string, len(fields))
		dest := []any{&r.ID, &r.DocumentID, &r.ChunkIndex, &r.ChunkText, &r.ChunkWordCount, &r.StartChar, &r.EndChar,
			&r.OverlapPrev, &r.OverlapNext, &r.SectionTitle, &r.EmbeddingModel, &r.Title, &r.Authors, &r.Abstract,
			&r.Categories, &published, &r.PDFURL, &r.IndexedAt, &h.Score}
		for i := range highlights {
			dest = append(dest, &highlights[i])
		}
		dest = append(dest, &total)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("scan hit: %w", err)
		}
		if published != nil {
			r.PublishedDate = published.UTC()
		}
		h.ID = r.ID
		for i, f := range fields {
			if hl := highlights[i]; hl != nil && strings.Contains(*hl, req.Highlight.PreTag) {
				if h.Highlights == nil {
					h.Highlights = map[string][]string{}
				}
				h.Highlights[f.Name] = strings.Split(*hl, " ... ")
			}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, total, nil
}

func (x *PGIndex) HealthCheck(ctx context.Context) bool {
	if err := x.db.Ping(ctx); err != nil {
		x.log.Warn().Err(err).Msg("postgres health check failed")
		return false
	}
	return true
}

func (x *PGIndex) Stats(ctx context.Context) (search.IndexStats, error) {
	st := search.IndexStats{Name: x.name}
	ok, err := x.exists(ctx)
	if err != nil || !ok {
		return st, err
	}
	st.Exists = true
	err = x.db.Pool.QueryRow(ctx, `
SELECT count(*), count(DISTINCT arxiv_id), pg_total_relation_size(to_regclass($1))
FROM `+x.table, x.table).Scan(&st.Documents, &st.Papers, &st.SizeBytes)
	if err != nil {
		return st, fmt.Errorf("index stats %s: %w", x.name, err)
	}
	return st, nil
}
