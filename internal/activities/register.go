package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.FetchPapersActivity)
	w.RegisterActivity(a.FetchPaperByIDActivity)
	w.RegisterActivity(a.ProcessPaperActivity)
	w.RegisterActivity(a.IndexPapersActivity)
	w.RegisterActivity(a.ReindexPaperActivity)
	w.RegisterActivity(a.WriteIngestSummaryActivity)
}
