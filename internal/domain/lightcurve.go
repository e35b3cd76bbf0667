package domain

import "time"

// BinnedLightcurvePoint is one bucket of a binned lightcurve.
type BinnedLightcurvePoint struct {
	// Time is the bucket center: bucket start + width/2.
	Time time.Time

	Flux float64 // mean flux over the bucket

	// FluxErr combines per-measurement uncertainties in quadrature:
	// sqrt(sum(err^2)) / count(err). Nil when no measurement in the
	// bucket carried a usable uncertainty.
	FluxErr *float64

	RA  *float64 // mean right ascension, degrees
	Dec *float64 // mean declination, degrees

	DataPoints int64
}

// BinnedLightcurve is an ordered, time-ascending sequence of binned
// points plus the query that produced it. Buckets with no measurements
// are omitted, not zero-filled.
type BinnedLightcurve struct {
	SourceID   string
	BandID     string
	Tier       TierLabel // tier whose rows fed the binning
	Resolution time.Duration
	Start      time.Time
	End        time.Time
	Points     []BinnedLightcurvePoint
}
