package cli

import (
	"context"
	"strings"

	"paperflow/internal/search"

	"github.com/spf13/cobra"
)

func newSearchCmd(open OpenFunc) *cobra.Command {
	var (
		size       int
		from       int
		categories []string
		latest     bool
		hybrid     bool
		target     string
		minScore   float64
		asJSON     bool
		explain    bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed papers",
		Long: `Runs a BM25 search over chunk text, title, abstract and authors.
With --hybrid the query is also embedded and the lexical and vector rankings
are fused with reciprocal rank fusion. Without a query the newest papers are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := search.Params{
				Size:        size,
				From:        from,
				Categories:  categories,
				LatestFirst: latest,
				Hybrid:      hybrid,
				Target:      search.Target(strings.ToLower(target)),
				MinScore:    minScore,
			}
			if len(args) == 1 {
				p.Query = args[0]
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if explain {
					return printJSON(cmd, rt.Builder.Build(p).Body())
				}
				resp, err := rt.Search.Search(ctx, p)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, resp)
				}
				printHits(cmd, resp)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.IntVarP(&size, "size", "n", search.DefaultSize, "number of results")
	f.IntVar(&from, "from", 0, "offset of the first result")
	f.StringSliceVarP(&categories, "category", "c", nil, "restrict to arXiv categories")
	f.BoolVar(&latest, "latest", false, "order by publication date")
	f.BoolVar(&hybrid, "hybrid", false, "blend lexical and vector ranking")
	f.StringVar(&target, "target", string(search.TargetChunks), "chunks or papers")
	f.Float64Var(&minScore, "min-score", 0, "drop hits scoring below this")
	f.BoolVar(&asJSON, "json", false, "output results as JSON")
	f.BoolVar(&explain, "explain", false, "print the query body instead of searching")
	return cmd
}

func printHits(cmd *cobra.Command, resp search.Response) {
	if len(resp.Hits) == 0 {
		cmd.Println("No results found.")
		return
	}
	cmd.Printf("%d results (%s, %d ms)", resp.Total, resp.Mode, resp.TookMS)
	if resp.Degraded {
		cmd.Print(" [hybrid unavailable, lexical only]")
	}
	cmd.Println()
	cmd.Println()
	for i, h := range resp.Hits {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, h.Title, h.Score)
		cmd.Printf("      arXiv:%s", h.ArxivID)
		if h.SectionTitle != "" {
			cmd.Printf("  section: %s", h.SectionTitle)
		}
		cmd.Println()
		if h.Snippet != "" {
			cmd.Printf("      %s\n", h.Snippet)
		}
		cmd.Println()
	}
}
