package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/grounded-rag/internal/adapters/http"
	"github.com/kirillkom/grounded-rag/internal/bootstrap"
	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/observability/logging"
	"github.com/kirillkom/grounded-rag/internal/observability/metrics"
)

const serviceName = "rag-api"

func main() {
	if err := run(); err != nil {
		slog.Error("api_exit", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		Observer:    httpMetrics,
		Backend:     httpMetrics.Backend(),
		ServiceName: serviceName,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if cfg.VectorStore == config.VectorStoreMemory {
		// The in-process vector index starts empty, so the API indexes the corpus itself.
		report, err := app.Indexer.Reindex(ctx)
		if err != nil {
			return fmt.Errorf("index corpus: %w", err)
		}
		logger.Info("corpus_indexed", "documents", report.Documents, "chunks", report.Chunks)
	}
	if _, err := app.Loader.Reload(ctx); err != nil {
		// Readiness stays red until a corpus.updated event delivers a usable artifact.
		logger.Warn("corpus_initial_load_failed", "kind", domain.ErrorKind(err), "error", err.Error())
	}

	deps := httpadapter.Dependencies{
		Answers: app.Answers,
		Ready:   app.Holder,
		Reindex: app.Events,
		Metrics: httpMetrics,
		Logger:  logger,
	}
	if app.AnswerLog != nil {
		deps.Stats = app.AnswerLog
	}
	router, err := httpadapter.NewRouter(cfg, deps)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Covers a full generation; the stream endpoint clears its own deadline.
		WriteTimeout: cfg.Pipeline.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.APIMaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.APIMaxConnections)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", "addr", ln.Addr().String(), "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	if app.Events != nil {
		g.Go(func() error {
			return app.Events.SubscribeCorpusUpdated(gctx, func(ctx context.Context, revision uint64) error {
				generation, err := app.Loader.Reload(ctx)
				if err != nil {
					return fmt.Errorf("reload corpus revision %d: %w", revision, err)
				}
				logger.Info("corpus_update_applied", "revision", revision, "generation", generation)
				return nil
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api_shutdown_failed", "error", err.Error())
		}
		return nil
	})
	return g.Wait()
}
