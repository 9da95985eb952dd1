package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paperflow/internal/chunker"
	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/jackc/pgx/v5"
)

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

const paperColumns = `arxiv_id, title, authors, abstract, categories, published_date, pdf_url,
       COALESCE(raw_text,''), sections, figures, tables, COALESCE(parser_used,''), parser_metadata,
       pdf_processed, pdf_processed_at`

// UpsertPaper stores catalog metadata. Parsed content already on the row survives.
func (r *PaperRepo) UpsertPaper(ctx context.Context, d models.Document) error {
	if d.ArxivID == "" {
		return &util.ValidationError{Reason: util.ValidationMissingID, Detail: "upsert paper"}
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO papers (arxiv_id, title, authors, abstract, categories, published_date, pdf_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (arxiv_id)
DO UPDATE SET
  title = EXCLUDED.title,
  authors = EXCLUDED.authors,
  abstract = EXCLUDED.abstract,
  categories = EXCLUDED.categories,
  published_date = EXCLUDED.published_date,
  pdf_url = COALESCE(NULLIF(EXCLUDED.pdf_url,''), papers.pdf_url),
  updated_at = NOW()`,
		d.ArxivID, d.Title, nonNil(d.Authors), d.Abstract, nonNil(d.Categories), nullTime(d.PublishedDate), d.PDFURL,
	)
	if err != nil {
		return fmt.Errorf("upsert paper %s: %w", d.ArxivID, err)
	}
	return nil
}

// SaveParsedContent records parser output for an existing paper.
func (r *PaperRepo) SaveParsedContent(ctx context.Context, d models.Document) error {
	sections, err := json.Marshal(d.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	figures, err := json.Marshal(d.Figures)
	if err != nil {
		return fmt.Errorf("encode figures: %w", err)
	}
	tables, err := json.Marshal(d.Tables)
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	meta, err := json.Marshal(d.ParserMetadata)
	if err != nil {
		return fmt.Errorf("encode parser metadata: %w", err)
	}
	at := time.Now().UTC()
	if d.PDFProcessedAt != nil {
		at = *d.PDFProcessedAt
	}
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE papers SET
  raw_text = $2,
  sections = $3,
  figures = $4,
  tables = $5,
  parser_used = NULLIF($6,''),
  parser_metadata = $7,
  pdf_processed = TRUE,
  pdf_processed_at = $8,
  updated_at = NOW()
WHERE arxiv_id = $1`,
		d.ArxivID, util.SanitizeText(d.RawText), sections, figures, tables, d.ParserUsed, meta, at,
	)
	if err != nil {
		return fmt.Errorf("save parsed content %s: %w", d.ArxivID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save parsed content %s: %w", d.ArxivID, util.ErrNotFound)
	}
	return nil
}

func (r *PaperRepo) GetPaper(ctx context.Context, arxivID string) (models.Document, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE arxiv_id = $1`, arxivID)
	d, err := scanPaper(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("paper %s: %w", arxivID, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get paper %s: %w", arxivID, err)
	}
	return d, nil
}

// ListByIDs returns the papers that exist, in the order of ids.
func (r *PaperRepo) ListByIDs(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return []models.Document{}, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+paperColumns+`
FROM papers
WHERE arxiv_id = ANY($1)
ORDER BY array_position($1, arxiv_id)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list papers by ids: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0, len(ids))
	for rows.Next() {
		d, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paper by id: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers by ids: %w", err)
	}
	return out, nil
}

// ListProcessedIDs returns ids of papers with parsed content, newest first.
func (r *PaperRepo) ListProcessedIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT arxiv_id FROM papers
WHERE pdf_processed
ORDER BY published_date DESC NULLS LAST
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed papers: %w", err)
	}
	defer rows.Close()
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect processed papers: %w", err)
	}
	return ids, nil
}

func scanPaper(row pgx.Row) (models.Document, error) {
	var (
		d                        models.Document
		published, processedAt   *time.Time
		sections, figs, tbls, md []byte
	)
	if err := row.Scan(&d.ArxivID, &d.Title, &d.Authors, &d.Abstract, &d.Categories, &published, &d.PDFURL,
		&d.RawText, &sections, &figs, &tbls, &d.ParserUsed, &md, &d.PDFProcessed, &processedAt); err != nil {
		return models.Document{}, err
	}
	if published != nil {
		d.PublishedDate = published.UTC()
	}
	d.PDFProcessedAt = processedAt

	var err error
	if d.Sections, err = chunker.ParseSections(sections); err != nil {
		return models.Document{}, fmt.Errorf("decode sections of %s: %w", d.ArxivID, err)
	}
	if len(figs) > 0 {
		if err := json.Unmarshal(figs, &d.Figures); err != nil {
			return models.Document{}, fmt.Errorf("decode figures of %s: %w", d.ArxivID, err)
		}
	}
	if len(tbls) > 0 {
		if err := json.Unmarshal(tbls, &d.Tables); err != nil {
			return models.Document{}, fmt.Errorf("decode tables of %s: %w", d.ArxivID, err)
		}
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &d.ParserMetadata); err != nil {
			return models.Document{}, fmt.Errorf("decode parser metadata of %s: %w", d.ArxivID, err)
		}
	}
	return d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
