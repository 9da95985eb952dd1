package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"paperflow/internal/models"
	"paperflow/internal/search"
	"paperflow/internal/storage/sqlite/migrations"
	"paperflow/internal/util"
	"paperflow/internal/vector"

	"github.com/rs/zerolog"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Options struct {
	Path      string
	Name      string
	Dimension int
}

type Index struct {
	db   *sql.DB
	path string
	name string
	dim  int
	log  zerolog.Logger
}

var _ search.Backend = (*Index)(nil)

// Open creates the database file if needed and applies pending migrations.
func Open(opts Options, log zerolog.Logger) (*Index, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite index path is required")
	}
	if err := util.EnsureDir(filepath.Dir(opts.Path)); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	x := &Index{
		db:   db,
		path: opts.Path,
		name: opts.Name,
		dim:  opts.Dimension,
		log:  log.With().Str("component", "sqlite_index").Str("index", opts.Name).Logger(),
	}
	if err := x.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return x, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) Path() string {
	return x.path
}

func (x *Index) migrate(fsys fs.FS) error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := x.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := x.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := x.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

func (x *Index) EnsureIndex(ctx context.Context) (bool, error) {
	res, err := x.db.ExecContext(ctx,
		`INSERT INTO index_meta (name, dimension, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		x.name, x.dim, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", x.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", x.name, err)
	}
	if n == 0 {
		var dim int
		if err := x.db.QueryRowContext(ctx, `SELECT dimension FROM index_meta WHERE name = ?`, x.name).Scan(&dim); err == nil && dim != x.dim {
			x.log.Warn().Int("stored", dim).Int("configured", x.dim).Msg("index dimension differs from configuration")
		}
		return false, nil
	}
	x.log.Info().Int("dimension", x.dim).Msg("index created")
	return true, nil
}

func (x *Index) BulkInsert(ctx context.Context, records []models.IndexRecord) (search.BulkResult, error) {
	var res search.BulkResult
	if len(records) == 0 {
		return res, nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, arxiv_id, chunk_index, chunk_text, chunk_word_count, start_char, end_char,
			overlap_prev, overlap_next, section_title, embedding, embedding_model, title, authors, authors_text,
			abstract, categories, published_date, pdf_url, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chunk_text = excluded.chunk_text,
			chunk_word_count = excluded.chunk_word_count,
			start_char = excluded.start_char,
			end_char = excluded.end_char,
			overlap_prev = excluded.overlap_prev,
			overlap_next = excluded.overlap_next,
			section_title = excluded.section_title,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			title = excluded.title,
			authors = excluded.authors,
			authors_text = excluded.authors_text,
			abstract = excluded.abstract,
			categories = excluded.categories,
			published_date = excluded.published_date,
			pdf_url = excluded.pdf_url,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return res, fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if x.dim > 0 && len(r.Embedding) > 0 && len(r.Embedding) != x.dim {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s#%d: embedding has %d dimensions, index expects %d", r.DocumentID, r.ChunkIndex, len(r.Embedding), x.dim))
			continue
		}
		authors, _ := json.Marshal(nonNil(r.Authors))
		categories, _ := json.Marshal(nonNil(r.Categories))
		var emb []byte
		if len(r.Embedding) > 0 {
			emb = vector.Encode(r.Embedding)
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, r.DocumentID, r.ChunkIndex, r.ChunkText, r.ChunkWordCount, r.StartChar, r.EndChar,
			r.OverlapPrev, r.OverlapNext, r.SectionTitle, emb, r.EmbeddingModel, r.Title, string(authors),
			strings.Join(r.Authors, ", "), r.Abstract, string(categories), formatTime(r.PublishedDate), r.PDFURL,
			formatTime(r.IndexedAt),
		)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s#%d: %v", r.DocumentID, r.ChunkIndex, err))
			continue
		}
		res.Indexed++
	}
	if err := tx.Commit(); err != nil {
		return search.BulkResult{Failed: len(records), Errors: []string{err.Error()}}, fmt.Errorf("commit bulk insert: %w", err)
	}
	return res, nil
}

func (x *Index) DeleteByDocumentID(ctx context.Context, documentID string) (int64, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM records WHERE arxiv_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete records of %s: %w", documentID, err)
	}
	return res.RowsAffected()
}

func (x *Index) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := x.db.PingContext(ctx); err != nil {
		x.log.Warn().Err(err).Msg("sqlite health check failed")
		return false
	}
	return true
}

func (x *Index) Stats(ctx context.Context) (search.IndexStats, error) {
	st := search.IndexStats{Name: x.name}
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT count(*) FROM index_meta WHERE name = ?`, x.name).Scan(&n); err != nil {
		return st, fmt.Errorf("index stats %s: %w", x.name, err)
	}
	if n == 0 {
		return st, nil
	}
	st.Exists = true
	if err := x.db.QueryRowContext(ctx, `SELECT count(*), count(DISTINCT arxiv_id) FROM records`).Scan(&st.Documents, &st.Papers); err != nil {
		return st, fmt.Errorf("index stats %s: %w", x.name, err)
	}
	st.SizeBytes = util.FileSize(x.path) + util.FileSize(x.path+"-wal")
	return st, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
