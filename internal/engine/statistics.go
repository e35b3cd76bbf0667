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

// StatisticsEngine answers statistical summary queries. It selects a
// rollup tier from the query age, fetches raw rows or partial
// aggregates, and folds them through the aggregate algebra.
type StatisticsEngine struct {
	store   storage.FluxStore
	catalog *rollup.Catalog
	log     *zap.Logger
	now     func() time.Time
}

// NewStatisticsEngine creates a statistics engine over a flux store.
func NewStatisticsEngine(store storage.FluxStore, catalog *rollup.Catalog, log *zap.Logger) *StatisticsEngine {
	return &StatisticsEngine{store: store, catalog: catalog, log: log, now: time.Now}
}

// SourceStatistics computes the summary for one (source, band) pair
// over a time range. Both range bounds are optional and inclusive. A
// band with module "all" collates every module observing that
// frequency. An unknown source or band yields an empty record with
// MeasurementCount 0, never an error.
func (e *StatisticsEngine) SourceStatistics(ctx context.Context, sourceID, bandName string, tr domain.TimeRange) (*domain.SourceStatistics, error) {
	started := time.Now()
	stats, err := e.sourceStatistics(ctx, sourceID, bandName, tr)

	tierLabel := "invalid"
	if stats != nil {
		tierLabel = stats.Tier.String()
	}
	observability.RecordStatisticsQuery(tierLabel, time.Since(started).Seconds(), err)
	return stats, err
}

// AllBandStatistics computes summaries for every band the source has
// measurements in, fetched concurrently. With collate set, each
// frequency observed by at least two modules additionally gets an
// "all_<frequency>" entry combining them. A failing band aborts the
// whole call naming that band; there are no silent partial results.
func (e *StatisticsEngine) AllBandStatistics(ctx context.Context, sourceID string, tr domain.TimeRange, collate bool) (map[string]*domain.SourceStatistics, error) {
	if !tr.Valid() {
		return nil, fmt.Errorf("%w: start must be before end", storage.ErrInvalidInput)
	}
	names, err := e.store.BandNames(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list bands of source %s: %w", sourceID, err)
	}

	queries := make([]string, 0, len(names))
	queries = append(queries, names...)
	if collate {
		queries = append(queries, collationBands(names)...)
	}

	results := make([]*domain.SourceStatistics, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range queries {
		g.Go(func() error {
			stats, err := e.SourceStatistics(gctx, sourceID, name, tr)
			if err != nil {
				return fmt.Errorf("band %s: %w", name, err)
			}
			results[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*domain.SourceStatistics, len(queries))
	for i, name := range queries {
		out[name] = results[i]
	}
	return out, nil
}

func (e *StatisticsEngine) sourceStatistics(ctx context.Context, sourceID, bandName string, tr domain.TimeRange) (*domain.SourceStatistics, error) {
	if !tr.Valid() {
		return nil, fmt.Errorf("%w: start must be before end", storage.ErrInvalidInput)
	}
	band, err := parseBand(bandName)
	if err != nil {
		return nil, err
	}

	tier := e.catalog.Select(e.now(), tr.Start)
	e.log.Debug("selected statistics tier",
		zap.String("source_id", sourceID),
		zap.String("band", bandName),
		zap.String("tier", tier.Label.String()))

	bands, err := resolveCollation(ctx, e.store, sourceID, band)
	if err != nil {
		return nil, err
	}
	if band.IsAll() {
		observability.RecordCollatedFanout(len(bands))
	}
	if len(bands) == 0 {
		return emptyStatistics(sourceID, bandName, tier.Label), nil
	}

	if tier.IsRaw() {
		return e.rawStatistics(ctx, sourceID, bandName, bands, tier, tr)
	}
	return e.rollupStatistics(ctx, sourceID, bandName, bands, tier, tr)
}

// rawStatistics folds raw measurements as singleton buckets. Median
// and stddev are computable here and only here.
func (e *StatisticsEngine) rawStatistics(ctx context.Context, sourceID, resultBand string, bands []string, tier domain.RollupTier, tr domain.TimeRange) (*domain.SourceStatistics, error) {
	rows, err := fetchRawBands(ctx, e.store, sourceID, bands, tr)
	if err != nil {
		return nil, err
	}

	stats := emptyStatistics(sourceID, resultBand, tier.Label)
	if len(rows) == 0 {
		return stats, nil
	}

	folded := aggregate.FoldMeasurements(rows)
	stats.MeasurementCount = folded.DataPoints
	start, end := rows[0].Time, rows[len(rows)-1].Time
	stats.StartTime = &start
	stats.EndTime = &end
	fillDecomposable(stats, folded)

	fluxes := make([]float64, len(rows))
	for i, m := range rows {
		fluxes[i] = m.Flux
	}
	median := aggregate.Median(fluxes)
	stats.MedianFlux = &median
	if mean := aggregate.Mean(folded); mean != nil && folded.DataPoints >= 2 {
		stddev := aggregate.SampleStddev(fluxes, *mean)
		stats.StddevFlux = &stddev
	}
	return stats, nil
}

// rollupStatistics folds pre-computed partial aggregates. Median and
// stddev are not decomposable from the stored sums and stay nil.
func (e *StatisticsEngine) rollupStatistics(ctx context.Context, sourceID, resultBand string, bands []string, tier domain.RollupTier, tr domain.TimeRange) (*domain.SourceStatistics, error) {
	buckets, err := e.fetchRollupBands(ctx, sourceID, bands, tier, tr)
	if err != nil {
		return nil, err
	}

	stats := emptyStatistics(sourceID, resultBand, tier.Label)
	if len(buckets) == 0 {
		return stats, nil
	}

	folded := aggregate.Fold(buckets)
	stats.MeasurementCount = folded.DataPoints
	start := buckets[0].BucketStart
	end := tier.BucketEnd(buckets[len(buckets)-1].BucketStart)
	stats.StartTime = &start
	stats.EndTime = &end
	fillDecomposable(stats, folded)
	return stats, nil
}

func (e *StatisticsEngine) fetchRollupBands(ctx context.Context, sourceID string, bands []string, tier domain.RollupTier, tr domain.TimeRange) ([]*domain.PartialAggregateBucket, error) {
	if len(bands) == 1 {
		buckets, err := e.store.FetchRollup(ctx, sourceID, bands[0], tier, tr)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", bands[0], err)
		}
		return buckets, nil
	}

	perBand := make([][]*domain.PartialAggregateBucket, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range bands {
		g.Go(func() error {
			buckets, err := e.store.FetchRollup(gctx, sourceID, name, tier, tr)
			if err != nil {
				return fmt.Errorf("band %s: %w", name, err)
			}
			perBand[i] = buckets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*domain.PartialAggregateBucket
	for _, buckets := range perBand {
		out = append(out, buckets...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

// fillDecomposable assigns every statistic derivable from partial
// sums, each through its single member of the closed statistic set.
func fillDecomposable(stats *domain.SourceStatistics, b domain.PartialAggregateBucket) {
	stats.MinFlux = aggregate.StatMin.FromBucket(b)
	stats.MaxFlux = aggregate.StatMax.FromBucket(b)
	stats.MeanFlux = aggregate.StatMean.FromBucket(b)
	stats.WeightedMeanFlux = aggregate.StatWeightedMean.FromBucket(b)
	stats.WeightedErrorOnMeanFlux = aggregate.StatWeightedError.FromBucket(b)
	stats.VarianceFlux = aggregate.StatVariance.FromBucket(b)
}

// emptyStatistics is the all-null record for a (source, band) with no
// matching measurements.
func emptyStatistics(sourceID, bandID string, tier domain.TierLabel) *domain.SourceStatistics {
	return &domain.SourceStatistics{
		SourceID: sourceID,
		BandID:   bandID,
		Tier:     tier,
	}
}

// collationBands derives the "all_<frequency>" names for every
// frequency observed by at least two modules.
func collationBands(names []string) []string {
	perFreq := make(map[int]int)
	for _, name := range names {
		b, err := domain.ParseBand(name)
		if err != nil || b.IsAll() {
			continue
		}
		perFreq[b.Frequency]++
	}

	freqs := make([]int, 0, len(perFreq))
	for f, n := range perFreq {
		if n >= 2 {
			freqs = append(freqs, f)
		}
	}
	sort.Ints(freqs)

	out := make([]string, 0, len(freqs))
	for _, f := range freqs {
		out = append(out, domain.Band{Module: domain.ModuleAll, Frequency: f}.Name())
	}
	return out
}
