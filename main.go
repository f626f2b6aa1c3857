package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jalad-shrimali/cdr-trace/cellstore"
	"github.com/jalad-shrimali/cdr-trace/config"
	"github.com/jalad-shrimali/cdr-trace/handlers"
	"github.com/jalad-shrimali/cdr-trace/locate"
	"github.com/jalad-shrimali/cdr-trace/logging"
	"github.com/jalad-shrimali/cdr-trace/pipeline"
	"github.com/jalad-shrimali/cdr-trace/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache locate.Cache
	if cfg.CellCachePath != "" {
		store, err := cellstore.Open(cfg.CellCachePath)
		if err != nil {
			logger.Fatal("cell cache", zap.Error(err))
		}
		defer store.Close()
		cache = store
		logger.Info("cell cache enabled", zap.String("path", cfg.CellCachePath))
	}

	client := locate.NewClient(cfg.LookupURL, cfg.LookupMNC, &http.Client{Timeout: cfg.LookupTimeout})
	p := pipeline.New(locate.NewResolver(client, cache, cfg.ResolverOptions()))

	if cfg.WatchDir != "" {
		w := watch.New(cfg.WatchDir, cfg.OutputDir, cfg.WatchSettle, p)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("watcher", zap.Error(err))
		}
		go func() {
			if err := w.Backfill(ctx); err != nil {
				logger.Warn("backfill", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: (&handlers.Server{
			Runner:    p,
			UploadDir: cfg.UploadDir,
			OutputDir: cfg.OutputDir,
			Tiles:     cfg.Tiles,
			Origins:   cfg.CORSOrigins,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("output_dir", cfg.OutputDir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server", zap.Error(err))
	}
}
