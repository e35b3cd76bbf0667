// Package export renders lightcurves and statistics summaries for the
// HTTP API and offline reports.
package export

import (
	"context"
	"sort"
	"time"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/engine"
	"lightcurvedb/internal/storage"
)

// Generator assembles source reports from stored data.
type Generator struct {
	sources storage.SourceStore
	stats   *engine.StatisticsEngine
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(sources storage.SourceStore, stats *engine.StatisticsEngine) *Generator {
	return &Generator{
		sources: sources,
		stats:   stats,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the statistics report for one source across all of
// its observed bands.
func (g *Generator) Generate(ctx context.Context, sourceID string, tr domain.TimeRange, collate bool) (*SourceReport, error) {
	src, err := g.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	perBand, err := g.stats.AllBandStatistics(ctx, sourceID, tr, collate)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(perBand))
	for name := range perBand {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &SourceReport{
		GeneratedAt: g.now(),
		Source:      src,
		Range:       tr,
		Bands:       make([]BandStatisticsRow, 0, len(names)),
	}
	for _, name := range names {
		stats := perBand[name]
		report.Bands = append(report.Bands, BandStatisticsRow{Band: name, Stats: stats})

		// Collated rows re-count measurements already counted by the
		// per-band rows they combine.
		if band, err := domain.ParseBand(name); err == nil && band.IsAll() {
			continue
		}
		report.TotalMeasurements += stats.MeasurementCount
	}
	return report, nil
}
