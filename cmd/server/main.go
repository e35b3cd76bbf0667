// Package main runs the lightcurve HTTP API over the configured
// storage backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lightcurvedb/internal/api"
	"lightcurvedb/internal/config"
	"lightcurvedb/internal/engine"
	"lightcurvedb/internal/export"
	"lightcurvedb/internal/logging"
	"lightcurvedb/internal/rollup"
	"lightcurvedb/internal/storage/factory"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewWith(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := factory.ParseBackend(cfg.Storage.Backend)
	if err != nil {
		log.Fatal("parse storage backend", zap.Error(err))
	}

	stores, err := factory.Open(ctx, backend, factory.Options{
		PostgresDSN:   cfg.Storage.PostgresDSN,
		ClickhouseDSN: cfg.Storage.ClickhouseDSN,
		ParquetDir:    cfg.Storage.ParquetDir,
		AutoMigrate:   cfg.Storage.AutoMigrate,
	})
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}
	defer stores.Close()

	catalog := rollup.DefaultCatalog()
	stats := engine.NewStatisticsEngine(stores.Flux, catalog, log)

	hub := api.NewHub(log)
	go hub.Run(ctx)

	srv := api.NewServer(api.Options{
		Fluxes:      stores.Flux,
		Sources:     stores.Sources,
		Statistics:  stats,
		Lightcurves: engine.NewLightcurveEngine(stores.Flux, catalog, log),
		Reports:     export.NewGenerator(stores.Sources, stats),
		Hub:         hub,
		Backend:     string(backend),
		Logger:      log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- httpServer.ListenAndServe() }()
	log.Info("server listening",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("backend", string(backend)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.EffectiveShutdownGrace())
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("forced shutdown", zap.Error(err))
		}
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}

	log.Info("shutdown complete")
}
