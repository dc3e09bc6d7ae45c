package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/examseg/internal/api"
	"github.com/dgallion1/examseg/internal/config"
	"github.com/dgallion1/examseg/internal/imagestore"
	"github.com/dgallion1/examseg/internal/pathstore"
	"github.com/dgallion1/examseg/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := imagestore.NewDirStore(cfg.ImageDir)

	// Pathstore export is optional.
	var ps *pathstore.Client
	var exporter *pipeline.Exporter
	if cfg.PathstoreURL != "" {
		ps = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
		exporter = pipeline.NewExporter(ps, cfg.PathstorePrefix, cfg.MaxConcurrentStore, log)
	}

	orch := pipeline.NewOrchestrator(cfg, store, exporter, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if ps != nil {
			ps.Close()
		}
	}()

	log.Info("starting examseg",
		"port", cfg.Port,
		"image_dir", cfg.ImageDir,
		"workers", cfg.WorkerCount,
		"export", exporter != nil,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
