// Package cli implements paperctl, the operator command line for the pipeline.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"paperflow/internal/app"
	"paperflow/internal/config"
	"paperflow/internal/indexing"
	"paperflow/internal/logging"
	"paperflow/internal/models"
	"paperflow/internal/search"
	"paperflow/internal/storage"

	"github.com/spf13/cobra"
	tclient "go.temporal.io/sdk/client"
)

type Searcher interface {
	Search(ctx context.Context, p search.Params) (search.Response, error)
}

type IndexAdmin interface {
	EnsureIndex(ctx context.Context) (bool, error)
	Stats(ctx context.Context) (search.IndexStats, error)
}

type Fetcher interface {
	FetchByID(ctx context.Context, arxivID string) (models.Document, error)
	CleanCache(maxAge time.Duration, now time.Time) (int, error)
}

type Reindexer interface {
	Reindex(ctx context.Context, id string, doc models.Document) (indexing.Stats, error)
}

type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
}

// Runtime is what the commands operate on. Workflows is dialed lazily because
// only ingest and remote reindex need Temporal.
type Runtime struct {
	Config    config.Config
	Search    Searcher
	Builder   *search.QueryBuilder
	Index     IndexAdmin
	Papers    storage.PaperStore
	Fetcher   Fetcher
	Indexer   Reindexer
	Workflows func() (WorkflowStarter, error)
	Close     func()
}

type OpenFunc func(ctx context.Context) (*Runtime, error)

// OpenRuntime builds a Runtime from environment configuration.
func OpenRuntime(ctx context.Context) (*Runtime, error) {
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stderr, Service: "paperctl"})
	c, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	var tc tclient.Client
	rt := &Runtime{
		Config:  cfg,
		Search:  c.Search,
		Builder: c.Builder,
		Index:   c.Backend,
		Papers:  c.Papers,
		Fetcher: c.Fetcher,
		Indexer: c.Indexer,
		Workflows: func() (WorkflowStarter, error) {
			if tc != nil {
				return tc, nil
			}
			dialed, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
			if err != nil {
				return nil, fmt.Errorf("dial temporal at %s: %w", cfg.TemporalAddress, err)
			}
			tc = dialed
			return tc, nil
		},
	}
	rt.Close = func() {
		if tc != nil {
			tc.Close()
		}
		c.Close()
	}
	return rt, nil
}

func NewRootCmd(open OpenFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "paperctl",
		Short:         "Operate the arXiv ingestion and search pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSetupCmd(open),
		newIngestCmd(open),
		newReindexCmd(open),
		newSearchCmd(open),
		newStatsCmd(open),
		newVerifyCmd(open),
		newCacheCmd(open),
	)
	return root
}

// withRuntime opens the runtime for one command invocation and always closes it.
func withRuntime(cmd *cobra.Command, open OpenFunc, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(ctx, rt)
}

func Execute() {
	if err := NewRootCmd(OpenRuntime).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
