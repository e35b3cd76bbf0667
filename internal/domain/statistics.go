package domain

import "time"

// SourceStatistics is the statistical summary of one (source, band)
// over a time range. Computed fresh per request, never persisted.
//
// Every derived field is a pointer: nil means the statistic is
// undefined for the data seen (no rows, a zero denominator, or a
// tier that cannot produce it), never NaN and never an error.
type SourceStatistics struct {
	SourceID string
	BandID   string
	Tier     TierLabel // tier that answered the query

	MeasurementCount int64

	// Observation span. For rollup tiers EndTime is the last bucket
	// start plus the tier's display correction.
	StartTime *time.Time
	EndTime   *time.Time

	MinFlux  *float64
	MaxFlux  *float64
	MeanFlux *float64

	// MedianFlux and StddevFlux are not decomposable from partial sums;
	// rollup tiers always return them as nil.
	MedianFlux *float64
	StddevFlux *float64

	WeightedMeanFlux        *float64
	WeightedErrorOnMeanFlux *float64
	VarianceFlux            *float64
}
