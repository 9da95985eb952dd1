package activities

import "paperflow/internal/indexing"

type FetchPapersInput struct {
	Category   string `json:"category"`
	FromDate   string `json:"from_date,omitempty"`
	ToDate     string `json:"to_date,omitempty"`
	Start      int    `json:"start,omitempty"`
	MaxResults int    `json:"max_results"`
}

type FetchPapersOutput struct {
	ArxivIDs []string `json:"arxiv_ids"`
}

type FetchPaperByIDInput struct {
	ArxivID string `json:"arxiv_id"`
}

type ProcessPaperInput struct {
	ArxivID       string `json:"arxiv_id"`
	ForceDownload bool   `json:"force_download,omitempty"`
}

// ProcessPaperOutput reports how one paper went through download and parse.
// Status is one of ok, skipped or failed; failed papers never error the activity.
type ProcessPaperOutput struct {
	ArxivID  string `json:"arxiv_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Pages    int    `json:"pages,omitempty"`
	Sections int    `json:"sections,omitempty"`
}

type IndexPapersInput struct {
	ArxivIDs        []string `json:"arxiv_ids"`
	ReplaceExisting bool     `json:"replace_existing"`
}

type IndexPapersOutput struct {
	Stats indexing.BatchStats `json:"stats"`
}

type ReindexPaperInput struct {
	ArxivID string `json:"arxiv_id"`
}

type ReindexPaperOutput struct {
	ArxivID string         `json:"arxiv_id"`
	Stats   indexing.Stats `json:"stats"`
}

type WriteIngestSummaryInput struct {
	RunID   string         `json:"run_id"`
	Summary map[string]any `json:"summary"`
}

type WriteIngestSummaryOutput struct {
	Path string `json:"path"`
}
