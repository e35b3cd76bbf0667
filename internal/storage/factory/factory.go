// Package factory opens the configured storage backend behind the
// shared store interfaces.
package factory

import (
	"context"
	"fmt"

	"lightcurvedb/internal/storage"
	chstore "lightcurvedb/internal/storage/clickhouse"
	"lightcurvedb/internal/storage/memory"
	"lightcurvedb/internal/storage/migrations"
	"lightcurvedb/internal/storage/parquet"
	"lightcurvedb/internal/storage/postgres"
)

// Backend names a flux store implementation.
type Backend string

const (
	BackendPostgres   Backend = "postgres"
	BackendClickhouse Backend = "clickhouse"
	BackendParquet    Backend = "parquet"
	BackendMemory     Backend = "memory"
)

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendPostgres, BackendClickhouse, BackendParquet, BackendMemory:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("%w: unknown storage backend %q", storage.ErrInvalidInput, s)
	}
}

// Stores bundles the opened stores with their teardown.
type Stores struct {
	Flux    storage.FluxStore
	Sources storage.SourceStore

	close func() error
}

// Close releases the underlying connections. Safe on a nil receiver.
func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// Options carries backend-specific settings; only the fields of the
// selected backend are read.
type Options struct {
	PostgresDSN   string
	ClickhouseDSN string
	ParquetDir    string

	// AutoMigrate applies the embedded schema before returning the
	// stores. Ignored by the parquet and memory backends.
	AutoMigrate bool
}

// Open connects the chosen backend, optionally migrating it first.
func Open(ctx context.Context, backend Backend, opts Options) (*Stores, error) {
	switch backend {
	case BackendPostgres:
		pool, err := postgres.NewPool(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &Stores{
			Flux:    postgres.NewFluxStore(pool),
			Sources: postgres.NewSourceStore(pool),
			close:   func() error { pool.Close(); return nil },
		}, nil

	case BackendClickhouse:
		var (
			conn *chstore.Conn
			err  error
		)
		if opts.AutoMigrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, opts.ClickhouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, opts.ClickhouseDSN)
		}
		if err != nil {
			return nil, err
		}
		return &Stores{
			Flux:    chstore.NewFluxStore(conn),
			Sources: chstore.NewSourceStore(conn),
			close:   conn.Close,
		}, nil

	case BackendParquet:
		fluxes, err := parquet.NewFluxStore(opts.ParquetDir)
		if err != nil {
			return nil, err
		}
		// The parquet layout has no catalog file; sources live in
		// memory for the life of the process.
		return &Stores{
			Flux:    fluxes,
			Sources: memory.NewSourceStore(),
		}, nil

	case BackendMemory:
		return &Stores{
			Flux:    memory.NewFluxStore(),
			Sources: memory.NewSourceStore(),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", storage.ErrInvalidInput, backend)
	}
}
