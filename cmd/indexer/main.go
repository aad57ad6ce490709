package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/expert-router/internal/bootstrap"
	"github.com/kirillkom/expert-router/internal/config"
	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Setup("indexer", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewIndexer(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.IndexerMetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		log.Printf("indexer metrics listening on :%s", cfg.IndexerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	runPass := func(passCtx context.Context, reason string) error {
		app.Metrics.StartPass()
		started := time.Now()
		report, err := app.IndexUC.RunPass(passCtx)
		if report == nil {
			report = &domain.PassReport{}
		}
		app.Metrics.FinishPass("indexer", *report, time.Since(started), err)
		switch {
		case err == nil:
			slog.Info("index_pass_complete", "reason", reason,
				"groups", report.Groups, "experts", report.Experts,
				"new_files", report.NewFiles, "skipped_files", report.SkippedFiles,
				"failed_files", report.FailedFiles, "chunks", report.Chunks)
			return nil
		case domain.IsKind(err, domain.ErrPassRunning):
			slog.Warn("index_pass_skipped", "reason", reason)
			return nil
		default:
			return err
		}
	}

	// A fresh deployment has no snapshot until the first pass completes, so
	// run one immediately instead of waiting for a trigger.
	go func() {
		if err := runPass(ctx, "startup"); err != nil {
			slog.Error("startup_pass_failed", "error", err)
		}
	}()

	if app.Watcher != nil {
		go func() {
			err := app.Watcher.Run(ctx, func(watchCtx context.Context, reason string) error {
				return app.Bus.PublishIndexRequested(watchCtx, reason)
			})
			if err != nil {
				slog.Error("corpus_watcher_stopped", "error", err)
			}
		}()
	}

	log.Printf("indexer subscribed to %s", cfg.NATSIndexSubject)
	err = app.Bus.SubscribeIndexRequested(ctx, func(handlerCtx context.Context, reason string) error {
		passCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()
		return runPass(passCtx, reason)
	})
	if err != nil {
		log.Fatalf("indexer subscribe error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown error: %v", err)
	}
}
