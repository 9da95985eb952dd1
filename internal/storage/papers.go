package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"paperflow/internal/models"
	"paperflow/internal/util"
)

// PaperStore keeps paper metadata and parsed content between pipeline stages.
type PaperStore interface {
	UpsertPaper(ctx context.Context, d models.Document) error
	SaveParsedContent(ctx context.Context, d models.Document) error
	GetPaper(ctx context.Context, arxivID string) (models.Document, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Document, error)
	ListProcessedIDs(ctx context.Context, limit int) ([]string, error)
}

var (
	_ PaperStore = (*PaperRepo)(nil)
	_ PaperStore = (*FilePaperStore)(nil)
)

// FilePaperStore keeps one JSON document per paper under a directory. It backs
// the embedded deployment, where no Postgres is available.
type FilePaperStore struct {
	dir string
	mu  sync.Mutex
}

func NewFilePaperStore(dir string) (*FilePaperStore, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FilePaperStore{dir: dir}, nil
}

func (s *FilePaperStore) path(arxivID string) string {
	return util.SafeJoin(s.dir, strings.ReplaceAll(arxivID, "/", "_")+".json")
}

func (s *FilePaperStore) read(arxivID string) (models.Document, error) {
	raw, err := os.ReadFile(s.path(arxivID))
	if errors.Is(err, os.ErrNotExist) {
		return models.Document{}, fmt.Errorf("paper %s: %w", arxivID, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("read paper %s: %w", arxivID, err)
	}
	var d models.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return models.Document{}, fmt.Errorf("decode paper %s: %w", arxivID, err)
	}
	return d, nil
}

func (s *FilePaperStore) UpsertPaper(_ context.Context, d models.Document) error {
	if d.ArxivID == "" {
		return &util.ValidationError{Reason: util.ValidationMissingID, Detail: "upsert paper"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.read(d.ArxivID)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return err
	}
	cur.ArxivID = d.ArxivID
	cur.Title = d.Title
	cur.Authors = d.Authors
	cur.Abstract = d.Abstract
	cur.Categories = d.Categories
	cur.PublishedDate = d.PublishedDate
	if d.PDFURL != "" {
		cur.PDFURL = d.PDFURL
	}
	return util.WriteJSONAtomic(s.path(d.ArxivID), cur)
}

func (s *FilePaperStore) SaveParsedContent(_ context.Context, d models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.read(d.ArxivID)
	if err != nil {
		return fmt.Errorf("save parsed content: %w", err)
	}
	at := time.Now().UTC()
	if d.PDFProcessedAt != nil {
		at = *d.PDFProcessedAt
	}
	cur.RawText = util.SanitizeText(d.RawText)
	cur.Sections = d.Sections
	cur.Figures = d.Figures
	cur.Tables = d.Tables
	cur.ParserUsed = d.ParserUsed
	cur.ParserMetadata = d.ParserMetadata
	cur.PDFProcessed = true
	cur.PDFProcessedAt = &at
	return util.WriteJSONAtomic(s.path(d.ArxivID), cur)
}

func (s *FilePaperStore) GetPaper(_ context.Context, arxivID string) (models.Document, error) {
	return s.read(arxivID)
}

func (s *FilePaperStore) ListByIDs(_ context.Context, ids []string) ([]models.Document, error) {
	out := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		d, err := s.read(id)
		if errors.Is(err, util.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *FilePaperStore) ListProcessedIDs(_ context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	var docs []models.Document
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), "tmp-") {
			continue
		}
		d, err := s.read(strings.TrimSuffix(filepath.Base(m), ".json"))
		if err != nil {
			return nil, err
		}
		if d.PDFProcessed {
			docs = append(docs, d)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].PublishedDate.After(docs[j].PublishedDate) })
	ids := make([]string, 0, min(limit, len(docs)))
	for _, d := range docs[:min(limit, len(docs))] {
		ids = append(ids, d.ArxivID)
	}
	return ids, nil
}
