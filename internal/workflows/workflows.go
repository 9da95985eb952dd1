package workflows

import (
	"strings"
	"time"

	"paperflow/internal/activities"
	"paperflow/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetPaperStatus = "GetPaperStatus"
	QueryGetProgress    = "GetProgress"
)

const (
	statusOk      = string(models.OutcomeOk)
	statusSkipped = string(models.OutcomeSkipped)
	statusFailed  = string(models.OutcomeFailed)
)

func retryPolicy(attempts int32) *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    20 * time.Second,
		MaximumAttempts:    attempts,
	}
}

// PaperIngestWorkflow fetches one catalog window, downloads and parses every paper in
// child workflows, indexes the papers that parsed and writes a run summary.
func PaperIngestWorkflow(ctx workflow.Context, input IngestInput) (IngestResult, error) {
	log := workflow.GetLogger(ctx)
	runID := strings.TrimSpace(input.RunID)
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	progress := IngestProgress{
		RunID:         runID,
		Phase:         "fetch",
		PerPaper:      map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (IngestProgress, error) {
		return progress, nil
	}); err != nil {
		return IngestResult{}, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         retryPolicy(3),
	})
	var fetchOut activities.FetchPapersOutput
	if err := workflow.ExecuteActivity(ctx, "FetchPapersActivity", activities.FetchPapersInput{
		Category:   input.Category,
		FromDate:   input.FromDate,
		ToDate:     input.ToDate,
		MaxResults: input.MaxResults,
	}).Get(ctx, &fetchOut); err != nil {
		return IngestResult{}, err
	}
	ids := fetchOut.ArxivIDs
	progress.Total = len(ids)
	progress.Phase = "process"
	log.Info("papers fetched", "run_id", runID, "papers", len(ids))

	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}
	var parsed []string
	for i := 0; i < len(ids); i += maxChildren {
		end := min(i+maxChildren, len(ids))
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		for _, id := range ids[i:end] {
			progress.PerPaper[id] = "processing"
			workflowID := "paper-" + sanitizeID(runID) + "-" + sanitizeID(id)
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, PaperProcessWorkflow, PaperProcessInput{
				RunID:         runID,
				ArxivID:       id,
				ForceDownload: input.ForceDownload,
			}))
			progress.ChildWorkflow[id] = workflowID
		}

		for idx, f := range futures {
			id := ids[i+idx]
			var out activities.ProcessPaperOutput
			if err := f.Get(ctx, &out); err != nil {
				log.Warn("paper processing failed", "arxiv_id", id, "error", err)
				out.Status = statusFailed
			}
			progress.Done++
			progress.PerPaper[id] = out.Status
			switch out.Status {
			case statusOk:
				parsed = append(parsed, id)
			case statusSkipped:
				progress.Skipped++
			default:
				progress.Failed++
			}
		}
	}

	result := IngestResult{
		RunID:   runID,
		Fetched: len(ids),
		Parsed:  len(parsed),
		Skipped: progress.Skipped,
		Failed:  progress.Failed,
	}
	if len(parsed) > 0 {
		progress.Phase = "index"
		indexCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Minute,
			RetryPolicy:         retryPolicy(3),
		})
		var indexOut activities.IndexPapersOutput
		if err := workflow.ExecuteActivity(indexCtx, "IndexPapersActivity", activities.IndexPapersInput{
			ArxivIDs:        parsed,
			ReplaceExisting: input.ReplaceExisting,
		}).Get(ctx, &indexOut); err != nil {
			return result, err
		}
		result.Index = indexOut.Stats
	}

	progress.Phase = "summary"
	var summaryOut activities.WriteIngestSummaryOutput
	err := workflow.ExecuteActivity(ctx, "WriteIngestSummaryActivity", activities.WriteIngestSummaryInput{
		RunID: runID,
		Summary: map[string]any{
			"run_id":           runID,
			"category":         input.Category,
			"from_date":        input.FromDate,
			"to_date":          input.ToDate,
			"fetched":          result.Fetched,
			"parsed":           result.Parsed,
			"skipped":          result.Skipped,
			"failed":           result.Failed,
			"index":            result.Index,
			"per_paper_status": progress.PerPaper,
			"generated_at":     workflow.Now(ctx),
		},
	}).Get(ctx, &summaryOut)
	if err != nil {
		log.Warn("ingest summary not written", "run_id", runID, "error", err)
	}
	result.SummaryPath = summaryOut.Path
	progress.Phase = "completed"
	return result, nil
}

// PaperProcessWorkflow downloads and parses one stored paper. Skips and parse failures
// are results, not workflow errors.
func PaperProcessWorkflow(ctx workflow.Context, input PaperProcessInput) (activities.ProcessPaperOutput, error) {
	status := PaperStatus{
		ArxivID:     input.ArxivID,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetPaperStatus, func() (PaperStatus, error) {
		return status, nil
	}); err != nil {
		return activities.ProcessPaperOutput{}, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         retryPolicy(2),
	})

	status.CurrentStep = "process_paper"
	status.Steps[status.CurrentStep] = "processing"
	var out activities.ProcessPaperOutput
	if err := workflow.ExecuteActivity(ctx, "ProcessPaperActivity", activities.ProcessPaperInput{
		ArxivID:       input.ArxivID,
		ForceDownload: input.ForceDownload,
	}).Get(ctx, &out); err != nil {
		status.Status = statusFailed
		status.Reason = err.Error()
		status.Steps[status.CurrentStep] = statusFailed
		return activities.ProcessPaperOutput{}, err
	}
	status.Status = out.Status
	status.Reason = out.Reason
	status.Steps[status.CurrentStep] = "done"
	return out, nil
}

// ReindexWorkflow deletes and rebuilds the index records of each paper in turn.
func ReindexWorkflow(ctx workflow.Context, input ReindexInput) (ReindexResult, error) {
	log := workflow.GetLogger(ctx)
	progress := ReindexProgress{Total: len(input.ArxivIDs), PerPaper: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (ReindexProgress, error) {
		return progress, nil
	}); err != nil {
		return ReindexResult{}, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         retryPolicy(3),
	})

	var result ReindexResult
	for _, id := range input.ArxivIDs {
		progress.PerPaper[id] = "processing"
		if input.RefreshMetadata {
			if err := workflow.ExecuteActivity(ctx, "FetchPaperByIDActivity", activities.FetchPaperByIDInput{ArxivID: id}).Get(ctx, nil); err != nil {
				log.Warn("metadata refresh failed", "arxiv_id", id, "error", err)
			}
		}
		var out activities.ReindexPaperOutput
		err := workflow.ExecuteActivity(ctx, "ReindexPaperActivity", activities.ReindexPaperInput{ArxivID: id}).Get(ctx, &out)
		progress.Done++
		if err != nil {
			log.Warn("reindex failed", "arxiv_id", id, "error", err)
			progress.Failed++
			progress.PerPaper[id] = statusFailed
			result.Failed++
			continue
		}
		progress.PerPaper[id] = "reindexed"
		result.Reindexed++
		result.Stats.ChunksCreated += out.Stats.ChunksCreated
		result.Stats.ChunksIndexed += out.Stats.ChunksIndexed
		result.Stats.EmbeddingsGenerated += out.Stats.EmbeddingsGenerated
		result.Stats.Errors += out.Stats.Errors
	}
	return result, nil
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
