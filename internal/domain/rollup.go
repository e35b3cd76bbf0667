package domain

import "time"

// TierLabel names a rollup resolution tier.
type TierLabel string

const (
	TierRaw     TierLabel = "raw"
	TierDaily   TierLabel = "daily"
	TierWeekly  TierLabel = "weekly"
	TierMonthly TierLabel = "monthly"
)

// String returns the string representation of TierLabel.
func (l TierLabel) String() string {
	return string(l)
}

// RollupTier describes one resolution tier: how wide its buckets are,
// how old a query it may answer, and how the materializer maintains it.
// The raw tier has Width 0 and no materialization parameters.
type RollupTier struct {
	Label TierLabel

	// Width is the bucket width. All widths are fixed durations so bucket
	// grids stay anchored to the Unix epoch; the monthly tier uses a flat
	// 30 days rather than calendar months.
	Width time.Duration

	// ThresholdDays is the maximum query age, in whole days back from
	// now, this tier is eligible to answer.
	ThresholdDays int

	// Refresh window [now-RefreshStartOffset, now-RefreshEndOffset) is
	// re-materialized every RefreshCadence. The end offset keeps the tier
	// from chasing buckets still receiving late measurements.
	RefreshStartOffset time.Duration
	RefreshEndOffset   time.Duration
	RefreshCadence     time.Duration

	// Buckets older than DropAfter are deleted every DropCadence.
	DropAfter   time.Duration
	DropCadence time.Duration

	// DisplayCorrection is added to the last bucket start when reporting
	// an observation end time, so a month-wide bucket starting Jan 1
	// reports Jan 30 rather than Jan 1.
	DisplayCorrection time.Duration
}

// IsRaw reports whether the tier serves raw measurements rather than
// materialized buckets.
func (t RollupTier) IsRaw() bool {
	return t.Width == 0
}

// BucketEnd returns the inclusive display end of a bucket starting at
// start.
func (t RollupTier) BucketEnd(start time.Time) time.Time {
	return start.Add(t.DisplayCorrection)
}

// PartialAggregateBucket is one rollup row: the decomposable sums over
// every measurement of a (source, band) pair inside one bucket. A bucket
// with DataPoints == 0 is the merge identity; all its sums are zero and
// any statistic derived from it is null.
type PartialAggregateBucket struct {
	BucketStart time.Time
	SourceID    string
	BandID      string

	SumFlux        float64
	SumFluxSquared float64

	// Uncertainty sums skip measurements whose flux_err is null or zero,
	// mirroring NULLIF(POWER(flux_err, 2), 0) in the SQL backends.
	SumInverseUncertaintySquared  float64
	SumFluxOverUncertaintySquared float64

	MinFlux    float64
	MaxFlux    float64
	DataPoints int64
}

// BinnedSums is one pre-binned lightcurve row: per-bucket sums from
// which a BinnedLightcurvePoint is derived. Position and uncertainty
// carry their own counts because those columns are nullable.
type BinnedSums struct {
	BucketStart time.Time
	SourceID    string
	BandID      string

	SumFlux       float64
	SumRA         float64
	RAPoints      int64
	SumDec        float64
	DecPoints     int64
	SumErrSquared float64
	ErrPoints     int64
	DataPoints    int64
}
