// Package main runs the rollup materializer daemon: it keeps the
// per-tier rollup tables refreshed on their cadences and prunes
// buckets past retention.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"lightcurvedb/internal/config"
	"lightcurvedb/internal/logging"
	"lightcurvedb/internal/rollup"
	chstore "lightcurvedb/internal/storage/clickhouse"
	"lightcurvedb/internal/storage/migrations"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	refreshNow := flag.Bool("refresh-now", true, "Run a full refresh before scheduling")
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

	if cfg.Storage.ClickhouseDSN == "" {
		log.Fatal("storage.clickhouse_dsn is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conn *chstore.Conn
	if cfg.Storage.AutoMigrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	}
	if err != nil {
		log.Fatal("connect clickhouse", zap.Error(err))
	}
	defer conn.Close()

	catalog := rollup.DefaultCatalog()
	mat := rollup.NewMaterializer(conn, catalog, log)

	if err := mat.Setup(ctx); err != nil {
		log.Fatal("create rollup tables", zap.Error(err))
	}

	if *refreshNow {
		log.Info("running initial refresh")
		if err := mat.RefreshAll(ctx); err != nil {
			// Individual tiers retry on their cadence; startup continues.
			log.Warn("initial refresh incomplete", zap.Error(err))
		}
	}

	c := cron.New()
	if err := mat.Schedule(c); err != nil {
		log.Fatal("schedule rollup jobs", zap.Error(err))
	}
	c.Start()
	log.Info("rollup daemon running", zap.Int("jobs", len(c.Entries())))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	// Stop waits for any in-flight refresh to finish.
	<-c.Stop().Done()
	log.Info("shutdown complete")
}
