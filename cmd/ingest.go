package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"knowthecode/internal/ingest"
)

var (
	flagBatchSize   int
	flagConcurrency int
	flagMaxAttempts int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <repo-url-or-path>",
	Short: "Clone and index a repository for question answering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := baseConfig()
		if err != nil {
			return err
		}
		cfg.BatchSize = flagBatchSize
		cfg.Concurrency = flagConcurrency
		if flagMaxAttempts > 0 {
			cfg.Retry = ingest.DefaultRetryConfig()
			cfg.Retry.MaxAttempts = flagMaxAttempts
		}

		ing, err := ingest.New(cfg)
		if err != nil {
			return err
		}
		defer ing.Close()

		fmt.Printf("Ingesting %s...\n", args[0])
		start := time.Now()

		var lastStage ingest.Stage
		res, err := ing.Ingest(cmd.Context(), args[0], func(e ingest.Event) {
			if e.Stage != lastStage {
				lastStage = e.Stage
				fmt.Printf("  [%s]\n", e.Stage)
			}
		})
		elapsed := time.Since(start)

		if res != nil {
			fmt.Printf("\nDone in %s\n", elapsed.Round(time.Millisecond))
			fmt.Printf("  Repository: %s\n", res.RepoID)
			if res.Skipped {
				fmt.Println("  Already indexed, nothing to do (fingerprint matched)")
				return err
			}
			fmt.Printf("  Files:   %d selected, %d unreadable\n", res.FilesTotal, res.FilesFailed)
			fmt.Printf("  Chunks:  %d stored / %d total\n", res.StoredChunks, res.TotalChunks)
			if res.FailedBatches > 0 {
				fmt.Printf("  Batches: %d of %d FAILED, fingerprint withheld, re-run to retry\n",
					res.FailedBatches, res.TotalBatches)
			}
		}

		return err
	},
}

func init() {
	ingestCmd.Flags().IntVar(&flagBatchSize, "batch-size", 32, "chunks per embedding request")
	ingestCmd.Flags().IntVar(&flagConcurrency, "concurrency", 4, "in-flight embedding requests")
	ingestCmd.Flags().IntVar(&flagMaxAttempts, "max-attempts", 0, "retry attempts per batch (0 = default)")
	rootCmd.AddCommand(ingestCmd)
}
