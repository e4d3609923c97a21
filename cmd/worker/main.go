package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/grounded-rag/internal/bootstrap"
	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/observability/logging"
	"github.com/kirillkom/grounded-rag/internal/observability/metrics"
)

const serviceName = "rag-worker"

func main() {
	if err := run(); err != nil {
		slog.Error("worker_exit", "error", err.Error())
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

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		Backend:     workerMetrics.Backend(),
		ServiceName: serviceName,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	if app.Events == nil {
		return errors.New("worker requires NATS_URL")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("worker_subscribed", "subject", cfg.NATSReindexSubject)
		return app.Events.SubscribeReindexRequested(gctx, func(ctx context.Context, req ports.ReindexRequest) error {
			if !req.RequestedAt.IsZero() {
				workerMetrics.ObserveQueueLag(time.Since(req.RequestedAt))
			}
			runCtx, cancel := context.WithTimeout(ctx, cfg.ReindexTimeout)
			defer cancel()

			workerMetrics.StartReindex()
			start := time.Now()
			report, err := app.Indexer.Reindex(runCtx)
			workerMetrics.FinishReindex(time.Since(start), report.Embedded, err)
			if err != nil {
				logger.Error("reindex_failed",
					"reason", req.Reason,
					"kind", domain.ErrorKind(err),
					"error", err.Error(),
				)
				return err
			}
			logger.Info("reindex_completed",
				"reason", req.Reason,
				"documents", report.Documents,
				"chunks", report.Chunks,
				"revision", report.Revision,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
