// Package aggregate implements the partial-aggregate algebra and the
// bucket-grid rules shared by every storage backend and both query
// engines. All statistics and binning arithmetic lives here so the
// backends cannot drift apart: a backend either returns rows produced
// by its own query engine under these exact rules, or it returns raw
// measurements and lets this package do the grouping.
package aggregate

import (
	"math"

	"lightcurvedb/internal/domain"
)

// FromMeasurement lifts a raw measurement into a singleton bucket with
// DataPoints == 1. A nil or zero flux uncertainty contributes nothing
// to the uncertainty sums, matching NULLIF(POWER(flux_err, 2), 0) in
// the SQL backends.
func FromMeasurement(m *domain.FluxMeasurement) domain.PartialAggregateBucket {
	b := domain.PartialAggregateBucket{
		BucketStart:    m.Time,
		SourceID:       m.SourceID,
		BandID:         m.BandID,
		SumFlux:        m.Flux,
		SumFluxSquared: m.Flux * m.Flux,
		MinFlux:        m.Flux,
		MaxFlux:        m.Flux,
		DataPoints:     1,
	}
	if m.FluxErr != nil && *m.FluxErr != 0 {
		errSquared := *m.FluxErr * *m.FluxErr
		b.SumInverseUncertaintySquared = 1 / errSquared
		b.SumFluxOverUncertaintySquared = m.Flux / errSquared
	}
	return b
}

// Merge combines two buckets of the same (source, band) field-wise.
// The empty bucket (DataPoints == 0) is the identity, and Merge is
// associative, so folding N raw singletons and folding N rollup rows
// covering the same measurements produce the same sums.
func Merge(a, b domain.PartialAggregateBucket) domain.PartialAggregateBucket {
	if a.DataPoints == 0 {
		return b
	}
	if b.DataPoints == 0 {
		return a
	}
	out := domain.PartialAggregateBucket{
		BucketStart:                   a.BucketStart,
		SourceID:                      a.SourceID,
		BandID:                        a.BandID,
		SumFlux:                       a.SumFlux + b.SumFlux,
		SumFluxSquared:                a.SumFluxSquared + b.SumFluxSquared,
		SumInverseUncertaintySquared:  a.SumInverseUncertaintySquared + b.SumInverseUncertaintySquared,
		SumFluxOverUncertaintySquared: a.SumFluxOverUncertaintySquared + b.SumFluxOverUncertaintySquared,
		MinFlux:                       math.Min(a.MinFlux, b.MinFlux),
		MaxFlux:                       math.Max(a.MaxFlux, b.MaxFlux),
		DataPoints:                    a.DataPoints + b.DataPoints,
	}
	if b.BucketStart.Before(a.BucketStart) {
		out.BucketStart = b.BucketStart
	}
	return out
}

// Fold merges a slice of buckets into one. An empty slice yields the
// empty bucket.
func Fold(buckets []*domain.PartialAggregateBucket) domain.PartialAggregateBucket {
	var acc domain.PartialAggregateBucket
	for _, b := range buckets {
		acc = Merge(acc, *b)
	}
	return acc
}

// FoldMeasurements lifts raw measurements into singleton buckets and
// merges them.
func FoldMeasurements(measurements []*domain.FluxMeasurement) domain.PartialAggregateBucket {
	var acc domain.PartialAggregateBucket
	for _, m := range measurements {
		acc = Merge(acc, FromMeasurement(m))
	}
	return acc
}

// Mean returns sum_flux / data_points, or nil for an empty bucket.
func Mean(b domain.PartialAggregateBucket) *float64 {
	if b.DataPoints == 0 {
		return nil
	}
	v := b.SumFlux / float64(b.DataPoints)
	return &v
}

// WeightedMean returns the inverse-variance-weighted mean flux, or nil
// when the bucket is empty or no measurement carried a usable
// uncertainty. A zero denominator is a null result, never a division.
func WeightedMean(b domain.PartialAggregateBucket) *float64 {
	if b.DataPoints == 0 || b.SumInverseUncertaintySquared == 0 {
		return nil
	}
	v := b.SumFluxOverUncertaintySquared / b.SumInverseUncertaintySquared
	return &v
}

// WeightedError returns 1 / sqrt(sum_inverse_uncertainty_squared), the
// error on the weighted mean, under the same null conditions as
// WeightedMean.
func WeightedError(b domain.PartialAggregateBucket) *float64 {
	if b.DataPoints == 0 || b.SumInverseUncertaintySquared == 0 {
		return nil
	}
	v := 1 / math.Sqrt(b.SumInverseUncertaintySquared)
	return &v
}

// Variance returns the sample variance derived from the sums,
// (sum_flux_squared - n*mean^2) / (n-1), or nil when fewer than two
// measurements contributed.
func Variance(b domain.PartialAggregateBucket) *float64 {
	if b.DataPoints < 2 {
		return nil
	}
	n := float64(b.DataPoints)
	mean := b.SumFlux / n
	v := (b.SumFluxSquared - n*mean*mean) / (n - 1)
	return &v
}

// Min returns the bucket minimum flux, or nil for an empty bucket.
func Min(b domain.PartialAggregateBucket) *float64 {
	if b.DataPoints == 0 {
		return nil
	}
	v := b.MinFlux
	return &v
}

// Max returns the bucket maximum flux, or nil for an empty bucket.
func Max(b domain.PartialAggregateBucket) *float64 {
	if b.DataPoints == 0 {
		return nil
	}
	v := b.MaxFlux
	return &v
}
