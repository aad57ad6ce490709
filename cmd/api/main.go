package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/kirillkom/expert-router/internal/adapters/http"
	"github.com/kirillkom/expert-router/internal/bootstrap"
	"github.com/kirillkom/expert-router/internal/config"
	"github.com/kirillkom/expert-router/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Setup("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewAPI(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.AnswerUC, app.Router, app.Sessions, app.Bus, app.Metrics).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		err := app.Bus.SubscribeSnapshotUpdated(ctx, func(handlerCtx context.Context, passID string) error {
			snap, err := app.Snapshots.Load(handlerCtx)
			if err != nil {
				app.Metrics.RecordSnapshotReload("api", err, 0)
				return fmt.Errorf("load announced snapshot: %w", err)
			}
			app.Router.Reload(snap)
			app.Metrics.RecordSnapshotReload("api", nil, snap.ExpertCount())
			slog.Info("snapshot_reloaded", "pass_id", passID, "experts", snap.ExpertCount())
			return nil
		})
		if err != nil {
			log.Printf("snapshot subscribe error: %v", err)
		}
	}()

	go func() {
		log.Printf("api listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
}
