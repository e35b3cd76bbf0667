// Package engine orchestrates statistics and binned lightcurve
// queries: tier selection, repository fetches, band collation, and
// assembly of results through the shared aggregate arithmetic. The
// engines never compute a statistic themselves; every formula lives in
// the aggregate package.
package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// parseBand validates a band identifier, mapping malformed names onto
// the invalid-input error before any backend I/O happens.
func parseBand(name string) (domain.Band, error) {
	b, err := domain.ParseBand(name)
	if err != nil {
		return domain.Band{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return b, nil
}

// resolveCollation expands a collation band ("all_<frequency>") into
// the concrete band names the source observes at that frequency. A
// non-collation band resolves to itself without touching the store.
func resolveCollation(ctx context.Context, store storage.FluxStore, sourceID string, band domain.Band) ([]string, error) {
	if !band.IsAll() {
		return []string{band.Name()}, nil
	}
	names, err := store.BandNames(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list bands of source %s: %w", sourceID, err)
	}
	var out []string
	for _, name := range names {
		b, err := domain.ParseBand(name)
		if err != nil || b.IsAll() {
			continue
		}
		if b.Frequency == band.Frequency {
			out = append(out, name)
		}
	}
	return out, nil
}

// fetchRawBands fetches raw measurements for each band concurrently
// and returns the union ordered by time. A failing band aborts the
// whole fetch naming that band.
func fetchRawBands(ctx context.Context, store storage.FluxStore, sourceID string, bands []string, tr domain.TimeRange) ([]*domain.FluxMeasurement, error) {
	if len(bands) == 1 {
		rows, err := store.FetchRaw(ctx, sourceID, bands[0], tr)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", bands[0], err)
		}
		return rows, nil
	}

	perBand := make([][]*domain.FluxMeasurement, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range bands {
		g.Go(func() error {
			rows, err := store.FetchRaw(gctx, sourceID, name, tr)
			if err != nil {
				return fmt.Errorf("band %s: %w", name, err)
			}
			perBand[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*domain.FluxMeasurement
	for _, rows := range perBand {
		out = append(out, rows...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
