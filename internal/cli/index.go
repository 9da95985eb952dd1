package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paperflow/internal/search"

	"github.com/spf13/cobra"
)

func newSetupCmd(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the chunk index if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				created, err := rt.Index.EnsureIndex(ctx)
				if err != nil {
					return err
				}
				if created {
					cmd.Printf("index %s created\n", rt.Config.IndexName)
				} else {
					cmd.Printf("index %s already exists\n", rt.Config.IndexName)
				}
				return nil
			})
		},
	}
}

func newStatsCmd(open OpenFunc) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show chunk index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				st, err := rt.Index.Stats(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, st)
				}
				cmd.Printf("index:      %s\n", st.Name)
				cmd.Printf("exists:     %t\n", st.Exists)
				cmd.Printf("chunks:     %d\n", st.Documents)
				cmd.Printf("papers:     %d\n", st.Papers)
				cmd.Printf("size:       %s\n", humanBytes(st.SizeBytes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// newVerifyCmd checks the index exists and is populated.
func newVerifyCmd(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the index exists and holds chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				st, err := rt.Index.Stats(ctx)
				if err != nil {
					return err
				}
				if !st.Exists {
					return fmt.Errorf("index %s does not exist, run paperctl setup", st.Name)
				}
				if st.Documents == 0 {
					return errors.New("index is empty, run paperctl ingest")
				}
				cmd.Printf("index %s ok: %d chunks from %d papers (%.1f chunks per paper)\n",
					st.Name, st.Documents, st.Papers, averageChunks(st))
				return nil
			})
		},
	}
}

func newCacheCmd(open OpenFunc) *cobra.Command {
	cache := &cobra.Command{Use: "cache", Short: "Manage the PDF download cache"}
	var maxAge time.Duration
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached PDFs older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(_ context.Context, rt *Runtime) error {
				n, err := rt.Fetcher.CleanCache(maxAge, time.Now())
				if err != nil {
					return err
				}
				cmd.Printf("removed %d cached PDFs\n", n)
				return nil
			})
		},
	}
	clean.Flags().DurationVar(&maxAge, "max-age", 30*24*time.Hour, "minimum age of removed files")
	cache.AddCommand(clean)
	return cache
}

func averageChunks(st search.IndexStats) float64 {
	if st.Papers == 0 {
		return 0
	}
	return float64(st.Documents) / float64(st.Papers)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
