package workflows

import "paperflow/internal/indexing"

type IngestInput struct {
	RunID                 string `json:"run_id,omitempty"`
	Category              string `json:"category"`
	FromDate              string `json:"from_date,omitempty"`
	ToDate                string `json:"to_date,omitempty"`
	MaxResults            int    `json:"max_results"`
	MaxConcurrentChildren int    `json:"max_concurrent_children,omitempty"`
	ForceDownload         bool   `json:"force_download,omitempty"`
	ReplaceExisting       bool   `json:"replace_existing,omitempty"`
}

type IngestProgress struct {
	RunID         string            `json:"run_id"`
	Phase         string            `json:"phase"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Skipped       int               `json:"skipped"`
	Failed        int               `json:"failed"`
	PerPaper      map[string]string `json:"per_paper"`
	ChildWorkflow map[string]string `json:"child_workflow"`
}

type IngestResult struct {
	RunID       string              `json:"run_id"`
	Fetched     int                 `json:"fetched"`
	Parsed      int                 `json:"parsed"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Index       indexing.BatchStats `json:"index"`
	SummaryPath string              `json:"summary_path,omitempty"`
}

type PaperProcessInput struct {
	RunID         string `json:"run_id"`
	ArxivID       string `json:"arxiv_id"`
	ForceDownload bool   `json:"force_download,omitempty"`
}

type PaperStatus struct {
	ArxivID     string            `json:"arxiv_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Steps       map[string]string `json:"steps"`
}

type ReindexInput struct {
	ArxivIDs        []string `json:"arxiv_ids"`
	RefreshMetadata bool     `json:"refresh_metadata,omitempty"`
}

type ReindexProgress struct {
	Total    int               `json:"total"`
	Done     int               `json:"done"`
	Failed   int               `json:"failed"`
	PerPaper map[string]string `json:"per_paper"`
}

type ReindexResult struct {
	Reindexed int            `json:"reindexed"`
	Failed    int            `json:"failed"`
	Stats     indexing.Stats `json:"stats"`
}
