package cli

import (
	"context"
	"errors"
	"fmt"

	"paperflow/internal/util"
	"paperflow/internal/workflows"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

func newIngestCmd(open OpenFunc) *cobra.Command {
	var (
		in   workflows.IngestInput
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Start an ingestion run for one category and date window",
		Long: `Starts the ingestion workflow: fetch the catalog window, download and parse
every PDF, index the parsed papers and write a run summary under the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if in.Category == "" {
					in.Category = rt.Config.ArxivCategory
				}
				if in.MaxResults <= 0 {
					in.MaxResults = rt.Config.ArxivMaxResults
				}
				if in.RunID == "" {
					in.RunID = uuid.NewString()
				}
				wc, err := rt.Workflows()
				if err != nil {
					return err
				}
				run, err := wc.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
					ID:                                       "ingest-" + in.RunID,
					TaskQueue:                                rt.Config.TemporalTaskQueue,
					WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
					WorkflowExecutionErrorWhenAlreadyStarted: true,
				}, workflows.PaperIngestWorkflow, in)
				if err != nil {
					return fmt.Errorf("start ingest: %w", err)
				}
				cmd.Printf("ingest %s started (workflow %s, run %s)\n", in.RunID, run.GetID(), run.GetRunID())
				if !wait {
					return nil
				}
				var res workflows.IngestResult
				if err := run.Get(ctx, &res); err != nil {
					return fmt.Errorf("ingest %s: %w", in.RunID, err)
				}
				cmd.Printf("fetched %d, parsed %d, skipped %d, failed %d\n", res.Fetched, res.Parsed, res.Skipped, res.Failed)
				cmd.Printf("indexed %d chunks from %d papers (%d errors)\n", res.Index.ChunksIndexed, res.Index.Succeeded, res.Index.Errors)
				if res.SummaryPath != "" {
					cmd.Printf("summary: %s\n", res.SummaryPath)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.RunID, "run-id", "", "run identifier (random when empty)")
	f.StringVarP(&in.Category, "category", "c", "", "arXiv category (defaults to PAPERFLOW_ARXIV_CATEGORY)")
	f.StringVar(&in.FromDate, "from", "", "first submission date, YYYYMMDD")
	f.StringVar(&in.ToDate, "to", "", "last submission date, YYYYMMDD")
	f.IntVarP(&in.MaxResults, "max-results", "n", 0, "papers to fetch (defaults to PAPERFLOW_ARXIV_MAX_RESULTS)")
	f.IntVar(&in.MaxConcurrentChildren, "concurrency", 3, "papers processed in parallel")
	f.BoolVar(&in.ForceDownload, "force-download", false, "download PDFs even when cached")
	f.BoolVar(&in.ReplaceExisting, "replace", false, "delete existing chunks of each paper before indexing")
	f.BoolVar(&wait, "wait", false, "wait for the run to finish and print its summary")
	return cmd
}

func newReindexCmd(open OpenFunc) *cobra.Command {
	var (
		local   bool
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "reindex <arxiv-id>...",
		Short: "Delete and rebuild the chunks of the given papers",
		Long: `Reindexes stored papers. By default a reindex workflow is started; with --local
the papers are reindexed in this process, which needs no Temporal server.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if local {
					return reindexLocal(ctx, cmd, rt, args, refresh)
				}
				wc, err := rt.Workflows()
				if err != nil {
					return err
				}
				run, err := wc.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
					ID:        "reindex-" + uuid.NewString(),
					TaskQueue: rt.Config.TemporalTaskQueue,
				}, workflows.ReindexWorkflow, workflows.ReindexInput{ArxivIDs: args, RefreshMetadata: refresh})
				if err != nil {
					return fmt.Errorf("start reindex: %w", err)
				}
				cmd.Printf("reindex of %d papers started (workflow %s)\n", len(args), run.GetID())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "reindex in this process instead of via a workflow")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refresh paper metadata from arXiv first")
	return cmd
}

func reindexLocal(ctx context.Context, cmd *cobra.Command, rt *Runtime, ids []string, refresh bool) error {
	failed := 0
	for _, id := range ids {
		if refresh {
			doc, err := rt.Fetcher.FetchByID(ctx, id)
			if err == nil {
				err = rt.Papers.UpsertPaper(ctx, doc)
			}
			if err != nil {
				cmd.Printf("%s: metadata refresh failed: %v\n", id, err)
			}
		}
		doc, err := rt.Papers.GetPaper(ctx, id)
		if err != nil {
			failed++
			cmd.Printf("%s: %v\n", id, err)
			continue
		}
		st, err := rt.Indexer.Reindex(ctx, id, doc)
		switch {
		case errors.Is(err, util.ErrValidation):
			cmd.Printf("%s: skipped (%v)\n", id, err)
		case err != nil:
			failed++
			cmd.Printf("%s: %v\n", id, err)
		default:
			cmd.Printf("%s: %d/%d chunks indexed\n", id, st.ChunksIndexed, st.ChunksCreated)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d papers failed to reindex", failed, len(ids))
	}
	return nil
}
