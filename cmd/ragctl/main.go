package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/bootstrap"
	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/observability/logging"
)

const serviceName = "ragctl"

var (
	envFile    string
	tuningFile string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Grounded policy question answering from the command line",
	Long: `ragctl builds the policy corpus and answers questions over it with citations.

Examples:
  ragctl ingest                          # Parse and chunk the corpus
  ragctl index                           # Chunk, embed and publish a new revision
  ragctl ask -q "Can I get a refund?"    # Answer one question
  ragctl eval --dataset eval/golden.jsonl
  ragctl mcp                             # Serve the ask tool over stdio`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := os.Setenv("ENV_FILE", envFile); err != nil {
				return err
			}
		}
		if tuningFile != "" {
			if err := os.Setenv("RAG_TUNING_FILE", tuningFile); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		// stdout carries command output and the MCP protocol.
		logger = logging.New(os.Stderr, logging.Options{Service: serviceName, Level: level, Format: logging.FormatText})
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is ./.env)")
	rootCmd.PersistentFlags().StringVar(&tuningFile, "tuning", "", "YAML file overriding pipeline tuning")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default from LOG_LEVEL)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openApp wires the pipeline. One-shot commands skip NATS unless they publish.
func openApp(ctx context.Context, withEvents bool) (*bootstrap.App, error) {
	return bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		WithoutEvents: !withEvents,
		ServiceName:   serviceName,
	})
}

// loadCorpus publishes the chunk artifact as the searchable snapshot. The in-process
// vector store starts empty, so it is filled first.
func loadCorpus(ctx context.Context, app *bootstrap.App) error {
	if cfg.VectorStore == config.VectorStoreMemory {
		if _, err := app.Indexer.Reindex(ctx); err != nil {
			return fmt.Errorf("index corpus: %w", err)
		}
	}
	if _, err := app.Loader.Reload(ctx); err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	return nil
}
