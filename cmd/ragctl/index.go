package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	indexPublish bool
	indexQuiet   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse and chunk the corpus into the chunk artifact",
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest the corpus and embed every chunk into the vector store",
	Long: `Ingest the corpus, embed every chunk into the configured vector store and,
with --publish, announce the new revision so running API replicas reload it.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(ingestCmd, indexCmd)
	indexCmd.Flags().BoolVar(&indexPublish, "publish", false, "publish corpus.updated over NATS when done")
	indexCmd.Flags().BoolVar(&indexQuiet, "quiet", false, "disable the progress bar")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer app.Close()

	chunks, docs, err := app.Ingest.Ingest(cmd.Context())
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	fmt.Printf("Ingest complete:\n")
	fmt.Printf("  Documents: %d\n", docs)
	fmt.Printf("  Chunks:    %d\n", len(chunks))
	fmt.Printf("  Artifact:  %s/%s\n", cfg.StoragePath, cfg.ChunksKey)
	return nil
}

func runIndex(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd.Context(), indexPublish)
	if err != nil {
		return err
	}
	defer app.Close()
	if indexPublish && app.Events == nil {
		return fmt.Errorf("--publish requires NATS_URL")
	}

	if !indexQuiet {
		var (
			bar   *progressbar.ProgressBar
			barMu sync.Mutex
		)
		app.Indexer.OnProgress = func(done, total int) {
			barMu.Lock()
			defer barMu.Unlock()
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "[green]=[reset]",
						SaucerHead:    "[green]>[reset]",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
					progressbar.OptionOnCompletion(func() {
						fmt.Println()
					}),
				)
			}
			_ = bar.Set(done)
		}
	}

	start := time.Now()
	report, err := app.Indexer.Reindex(cmd.Context())
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Documents: %d\n", report.Documents)
	fmt.Printf("  Chunks:    %d\n", report.Chunks)
	fmt.Printf("  Embedded:  %d\n", report.Embedded)
	fmt.Printf("  Revision:  %d\n", report.Revision)
	fmt.Printf("  Took:      %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
