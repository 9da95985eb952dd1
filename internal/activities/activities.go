package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"paperflow/internal/app"
	"paperflow/internal/arxiv"
	"paperflow/internal/indexing"
	"paperflow/internal/logging"
	"paperflow/internal/models"
	"paperflow/internal/providers"
	"paperflow/internal/storage"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

type Fetcher interface {
	Search(ctx context.Context, q arxiv.Query, p arxiv.Page) ([]models.Document, error)
	FetchByID(ctx context.Context, arxivID string) (models.Document, error)
	Download(ctx context.Context, doc models.Document, force bool) (string, error)
}

type Parser interface {
	Parse(ctx context.Context, path string) models.Outcome[*models.ParsedContent]
}

type Indexer interface {
	IndexBatch(ctx context.Context, docs []models.Document, replaceExisting bool) (indexing.BatchStats, error)
	Reindex(ctx context.Context, id string, doc models.Document) (indexing.Stats, error)
}

type Activities struct {
	dataOut string
	papers  storage.PaperStore
	fetcher Fetcher
	parser  Parser
	indexer Indexer
	log     zerolog.Logger
}

func New(c *app.Container) *Activities {
	return NewWith(c.Config.DataOutRoot, c.Papers, c.Fetcher, c.Parser, c.Indexer, c.Log)
}

func NewWith(dataOut string, papers storage.PaperStore, f Fetcher, p Parser, ix Indexer, log zerolog.Logger) *Activities {
	return &Activities{
		dataOut: dataOut,
		papers:  papers,
		fetcher: f,
		parser:  p,
		indexer: ix,
		log:     logging.Component(log, "activities"),
	}
}

// asActivityError marks errors a retry cannot fix so the workflow retry policy
// stops immediately. Transport and storage errors stay retryable.
func asActivityError(err error) error {
	if err == nil {
		return nil
	}
	if util.Retryable(err) && providers.ClassifyError(err) != providers.ErrorQuota {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), util.Kind(err), err)
}

// FetchPapersActivity pulls one result page and stores the metadata of every paper.
func (a *Activities) FetchPapersActivity(ctx context.Context, in FetchPapersInput) (FetchPapersOutput, error) {
	docs, err := a.fetcher.Search(ctx, arxiv.Query{Category: in.Category, FromDate: in.FromDate, ToDate: in.ToDate},
		arxiv.Page{Start: in.Start, MaxResults: in.MaxResults})
	if err != nil {
		return FetchPapersOutput{}, asActivityError(err)
	}
	out := FetchPapersOutput{ArxivIDs: make([]string, 0, len(docs))}
	for _, d := range docs {
		if err := a.papers.UpsertPaper(ctx, d); err != nil {
			return FetchPapersOutput{}, asActivityError(err)
		}
		out.ArxivIDs = append(out.ArxivIDs, d.ArxivID)
	}
	a.log.Info().Str("category", in.Category).Str("from", in.FromDate).Str("to", in.ToDate).Int("papers", len(docs)).Msg("papers fetched")
	return out, nil
}

// FetchPaperByIDActivity refreshes the metadata of one paper from the catalog.
func (a *Activities) FetchPaperByIDActivity(ctx context.Context, in FetchPaperByIDInput) error {
	d, err := a.fetcher.FetchByID(ctx, in.ArxivID)
	if err != nil {
		return asActivityError(err)
	}
	return asActivityError(a.papers.UpsertPaper(ctx, d))
}

// ProcessPaperActivity downloads and parses one stored paper and saves the parsed content.
func (a *Activities) ProcessPaperActivity(ctx context.Context, in ProcessPaperInput) (ProcessPaperOutput, error) {
	out := ProcessPaperOutput{ArxivID: in.ArxivID}
	doc, err := a.papers.GetPaper(ctx, in.ArxivID)
	if err != nil {
		return out, asActivityError(err)
	}
	activity.RecordHeartbeat(ctx, "download")
	path, err := a.fetcher.Download(ctx, doc, in.ForceDownload)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			out.Status, out.Reason = string(models.OutcomeFailed), err.Error()
			return out, nil
		}
		return out, asActivityError(err)
	}

	activity.RecordHeartbeat(ctx, "parse")
	res := a.parser.Parse(ctx, path)
	out.Status = string(res.Kind)
	switch res.Kind {
	case models.OutcomeSkipped:
		out.Reason = res.Reason
		return out, nil
	case models.OutcomeFailed:
		out.Reason = res.Reason
		if errors.Is(res.Err, util.ErrValidation) {
			out.Status = string(models.OutcomeSkipped)
			a.log.Info().Str("arxiv_id", in.ArxivID).Str("reason", res.Reason).Msg("paper skipped, pdf rejected")
			return out, nil
		}
		if util.Retryable(res.Err) && !errors.Is(res.Err, util.ErrParse) {
			return out, res.Err
		}
		return out, nil
	}

	doc.ApplyParsed(res.Value, time.Now().UTC())
	if err := a.papers.SaveParsedContent(ctx, doc); err != nil {
		return out, asActivityError(err)
	}
	out.Pages = res.Value.Pages
	out.Sections = len(res.Value.Sections)
	return out, nil
}

// IndexPapersActivity indexes stored papers. Ids without a stored paper count as failures.
func (a *Activities) IndexPapersActivity(ctx context.Context, in IndexPapersInput) (IndexPapersOutput, error) {
	docs, err := a.papers.ListByIDs(ctx, in.ArxivIDs)
	if err != nil {
		return IndexPapersOutput{}, asActivityError(err)
	}
	stats, err := a.indexer.IndexBatch(ctx, docs, in.ReplaceExisting)
	if err != nil {
		return IndexPapersOutput{}, asActivityError(err)
	}

	found := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		found[d.ArxivID] = struct{}{}
	}
	for _, id := range in.ArxivIDs {
		if _, ok := found[id]; ok {
			continue
		}
		stats.Documents++
		stats.Failed++
		stats.Errors++
		stats.Failures = append(stats.Failures, indexing.Failure{DocumentID: id, Kind: util.Kind(util.ErrNotFound), Error: "paper not stored"})
	}
	return IndexPapersOutput{Stats: stats}, nil
}

func (a *Activities) ReindexPaperActivity(ctx context.Context, in ReindexPaperInput) (ReindexPaperOutput, error) {
	doc, err := a.papers.GetPaper(ctx, in.ArxivID)
	if err != nil {
		return ReindexPaperOutput{ArxivID: in.ArxivID}, asActivityError(err)
	}
	st, err := a.indexer.Reindex(ctx, in.ArxivID, doc)
	if errors.Is(err, util.ErrValidation) {
		// Nothing to index is a skip, not a failure.
		return ReindexPaperOutput{ArxivID: in.ArxivID, Stats: st}, nil
	}
	return ReindexPaperOutput{ArxivID: in.ArxivID, Stats: st}, asActivityError(err)
}

func (a *Activities) WriteIngestSummaryActivity(_ context.Context, in WriteIngestSummaryInput) (WriteIngestSummaryOutput, error) {
	path := filepath.Join(a.dataOut, "runs", filepath.Base(in.RunID), "summary.json")
	if err := util.WriteJSONAtomic(path, in.Summary); err != nil {
		return WriteIngestSummaryOutput{}, fmt.Errorf("write ingest summary: %w", err)
	}
	return WriteIngestSummaryOutput{Path: path}, nil
}
