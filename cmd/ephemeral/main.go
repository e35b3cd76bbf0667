// Package main runs a disposable demo environment: it starts a
// throwaway Postgres container, migrates it, seeds synthetic
// lightcurves and serves the HTTP API until interrupted. Everything
// is discarded on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"lightcurvedb/internal/api"
	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/engine"
	"lightcurvedb/internal/export"
	"lightcurvedb/internal/logging"
	"lightcurvedb/internal/rollup"
	"lightcurvedb/internal/simulate"
	"lightcurvedb/internal/storage"
	"lightcurvedb/internal/storage/migrations"
	pgstore "lightcurvedb/internal/storage/postgres"
)

// seedBands mirrors a single-instrument mm-wave receiver set.
var seedBands = []domain.Band{
	{Module: "latr", Frequency: 27},
	{Module: "latr", Frequency: 39},
	{Module: "latr", Frequency: 93},
	{Module: "latr", Frequency: 145},
	{Module: "latr", Frequency: 225},
	{Module: "latr", Frequency: 280},
}

func main() {
	nSources := flag.Int("sources", 128, "Number of synthetic sources to seed")
	samples := flag.Int("samples", 365, "Samples per source per band, one day apart")
	seed := flag.Int64("seed", 0, "RNG seed, 0 derives one from the clock")
	addr := flag.String("addr", "127.0.0.1:8080", "HTTP listen address")
	flag.Parse()

	log, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting postgres container")
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("lightcurvedb"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatal("start postgres container", zap.Error(err))
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Warn("terminate container", zap.Error(err))
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatal("container connection string", zap.Error(err))
	}
	log.Info("postgres ready", zap.String("dsn", dsn))

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}

	fluxes := pgstore.NewFluxStore(pool)
	sources := pgstore.NewSourceStore(pool)

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	if err := seedData(ctx, fluxes, sources, *nSources, *samples, rngSeed, log); err != nil {
		log.Fatal("seed synthetic data", zap.Error(err))
	}

	catalog := rollup.DefaultCatalog()
	stats := engine.NewStatisticsEngine(fluxes, catalog, log)

	hub := api.NewHub(log)
	go hub.Run(ctx)

	srv := api.NewServer(api.Options{
		Fluxes:      fluxes,
		Sources:     sources,
		Statistics:  stats,
		Lightcurves: engine.NewLightcurveEngine(fluxes, catalog, log),
		Reports:     export.NewGenerator(sources, stats),
		Hub:         hub,
		Backend:     "postgres",
		Logger:      log,
	})

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- httpServer.ListenAndServe() }()
	log.Info("demo environment ready",
		zap.String("addr", *addr),
		zap.Int("sources", *nSources),
		zap.Int64("seed", rngSeed))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
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

// seedData registers nSources synthetic sources and fills a year of
// daily flux history for each. History ends at the current time so
// statistics queries over short windows still land on the raw tier.
func seedData(ctx context.Context, fluxes storage.FluxStore, sources storage.SourceStore, nSources, samples int, seed int64, log *zap.Logger) error {
	rng := rand.New(rand.NewSource(seed))
	cfg := simulate.DefaultFlareConfig()
	cadence := 24 * time.Hour
	start := time.Now().UTC().Add(-time.Duration(samples) * cadence)

	total := 0
	for i := 0; i < nSources; i++ {
		src := &domain.Source{
			ID:   fmt.Sprintf("sim-%05d", i),
			Name: fmt.Sprintf("ACT-%05d", rng.Intn(10001)),
			RA:   rng.Float64()*360.0 - 180.0,
			Dec:  rng.Float64()*180.0 - 90.0,
			Metadata: map[string]string{
				"origin": "simulated",
			},
		}
		if err := sources.Insert(ctx, src); err != nil {
			return fmt.Errorf("insert source %s: %w", src.ID, err)
		}

		rows := simulate.Lightcurve(rng, src.ID, seedBands, start, cadence, samples, cfg)
		if err := fluxes.InsertBatch(ctx, rows); err != nil {
			return fmt.Errorf("insert measurements for %s: %w", src.ID, err)
		}
		total += len(rows)
	}

	log.Info("seeded synthetic lightcurves",
		zap.Int("sources", nSources),
		zap.Int("bands", len(seedBands)),
		zap.Int("measurements", total))
	return nil
}
