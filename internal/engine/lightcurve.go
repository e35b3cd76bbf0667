package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lightcurvedb/internal/aggregate"
	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/observability"
	"lightcurvedb/internal/rollup"
	"lightcurvedb/internal/storage"
)

// LightcurveEngine answers binned lightcurve queries. When the
// requested resolution matches a materialized tier and both range
// bounds lie on that tier's epoch-anchored grid, it reads the
// pre-binned rows; otherwise it fetches raw measurements and bins them
// in process on a grid anchored at the query start. Both paths share
// the per-bucket combination rules in the aggregate package.
type LightcurveEngine struct {
	store   storage.FluxStore
	catalog *rollup.Catalog
	log     *zap.Logger
}

// NewLightcurveEngine creates a lightcurve engine over a flux store.
func NewLightcurveEngine(store storage.FluxStore, catalog *rollup.Catalog, log *zap.Logger) *LightcurveEngine {
	return &LightcurveEngine{store: store, catalog: catalog, log: log}
}

// BinnedLightcurve produces the ordered binned series for
// (source, band) over the half-open window [start, end). Points are
// labeled at bucket centers; buckets without measurements are omitted.
// An empty window result has zero points and is not an error.
func (e *LightcurveEngine) BinnedLightcurve(ctx context.Context, sourceID, bandName string, resolution time.Duration, start, end time.Time) (*domain.BinnedLightcurve, error) {
	started := time.Now()
	lc, err := e.binnedLightcurve(ctx, sourceID, bandName, resolution, start, end)

	tierLabel := "invalid"
	if lc != nil {
		tierLabel = lc.Tier.String()
	}
	observability.RecordLightcurveQuery(tierLabel, time.Since(started).Seconds(), err)
	return lc, err
}

func (e *LightcurveEngine) binnedLightcurve(ctx context.Context, sourceID, bandName string, resolution time.Duration, start, end time.Time) (*domain.BinnedLightcurve, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution must be positive", storage.ErrInvalidInput)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", storage.ErrInvalidInput)
	}
	band, err := parseBand(bandName)
	if err != nil {
		return nil, err
	}

	lc := &domain.BinnedLightcurve{
		SourceID:   sourceID,
		BandID:     bandName,
		Tier:       domain.TierRaw,
		Resolution: resolution,
		Start:      start,
		End:        end,
		Points:     []domain.BinnedLightcurvePoint{},
	}

	bands, err := resolveCollation(ctx, e.store, sourceID, band)
	if err != nil {
		return nil, err
	}
	if band.IsAll() {
		observability.RecordCollatedFanout(len(bands))
	}
	if len(bands) == 0 {
		return lc, nil
	}

	var sums []*domain.BinnedSums
	if tier, ok := e.usableBinnedTier(resolution, start, end); ok {
		lc.Tier = tier.Label
		sums, err = e.fetchBinnedBands(ctx, sourceID, bands, tier, start, end)
	} else {
		sums, err = e.binRawBands(ctx, sourceID, bands, start, end, resolution)
	}
	if err != nil {
		return nil, err
	}

	for _, s := range sums {
		lc.Points = append(lc.Points, aggregate.PointFromSums(s, resolution))
	}
	return lc, nil
}

// usableBinnedTier decides whether pre-binned rows can serve the
// query. Unaligned bounds would split edge buckets, and a partial
// bucket read from a rollup diverges from in-process grouping over the
// same window, so both bounds must sit on the tier grid.
func (e *LightcurveEngine) usableBinnedTier(resolution time.Duration, start, end time.Time) (domain.RollupTier, bool) {
	tier, ok := e.catalog.BinnedTier(resolution)
	if !ok {
		return domain.RollupTier{}, false
	}
	if !aggregate.Aligned(start, resolution) || !aggregate.Aligned(end, resolution) {
		e.log.Debug("range not aligned to tier grid, binning raw rows",
			zap.String("tier", tier.Label.String()))
		return domain.RollupTier{}, false
	}
	return tier, true
}

func (e *LightcurveEngine) fetchBinnedBands(ctx context.Context, sourceID string, bands []string, tier domain.RollupTier, start, end time.Time) ([]*domain.BinnedSums, error) {
	if len(bands) == 1 {
		sums, err := e.store.FetchBinnedSums(ctx, sourceID, bands[0], tier, start, end)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", bands[0], err)
		}
		return sums, nil
	}

	perBand := make([][]*domain.BinnedSums, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range bands {
		g.Go(func() error {
			sums, err := e.store.FetchBinnedSums(gctx, sourceID, name, tier, start, end)
			if err != nil {
				return fmt.Errorf("band %s: %w", name, err)
			}
			perBand[i] = sums
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// collation merges per-band rows covering the same bucket
	byBucket := make(map[int64]*domain.BinnedSums)
	for _, sums := range perBand {
		for _, s := range sums {
			key := s.BucketStart.UnixMicro()
			byBucket[key] = aggregate.MergeSums(byBucket[key], s)
		}
	}
	out := make([]*domain.BinnedSums, 0, len(byBucket))
	for _, s := range byBucket {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

func (e *LightcurveEngine) binRawBands(ctx context.Context, sourceID string, bands []string, start, end time.Time, resolution time.Duration) ([]*domain.BinnedSums, error) {
	// FetchRaw includes a measurement exactly at end; the half-open
	// grouping below drops it again.
	rows, err := fetchRawBands(ctx, e.store, sourceID, bands, domain.TimeRange{Start: &start, End: &end})
	if err != nil {
		return nil, err
	}
	return aggregate.BinMeasurements(rows, start, end, resolution), nil
}
