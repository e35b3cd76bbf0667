package aggregate

import (
	"math"
	"sort"
	"time"

	"lightcurvedb/internal/domain"
)

// EpochBucketStart floors t onto the bucket grid of the given width
// anchored at the Unix epoch. time.Truncate is unsuitable here: it
// anchors at the zero Time (year 1), which for multi-day widths lands
// on a different grid than date_bin(..., origin 'epoch') and
// toStartOfInterval. The arithmetic runs on Unix microseconds, the
// finest resolution the storage backends keep.
func EpochBucketStart(t time.Time, width time.Duration) time.Time {
	us := t.UnixMicro()
	w := width.Microseconds()
	rem := us % w
	if rem < 0 {
		rem += w
	}
	return time.UnixMicro(us - rem).UTC()
}

// Aligned reports whether t lies exactly on the epoch-anchored grid of
// the given width.
func Aligned(t time.Time, width time.Duration) bool {
	return EpochBucketStart(t, width).Equal(t)
}

// BinMeasurements groups raw measurements into non-overlapping,
// half-open [bucket_start, bucket_start+width) windows anchored at
// start, in ascending time order. Measurements outside [start, end)
// are skipped and windows with no measurements are omitted.
func BinMeasurements(measurements []*domain.FluxMeasurement, start, end time.Time, width time.Duration) []*domain.BinnedSums {
	byBucket := make(map[int64]*domain.BinnedSums)
	for _, m := range measurements {
		if m.Time.Before(start) || !m.Time.Before(end) {
			continue
		}
		idx := int64(m.Time.Sub(start) / width)
		bucketStart := start.Add(time.Duration(idx) * width)
		key := bucketStart.UnixMicro()
		b, ok := byBucket[key]
		if !ok {
			b = &domain.BinnedSums{
				BucketStart: bucketStart,
				SourceID:    m.SourceID,
				BandID:      m.BandID,
			}
			byBucket[key] = b
		}
		accumulate(b, m)
	}
	return sortedSums(byBucket)
}

// RollupBinnedSums groups raw measurements onto the epoch-anchored
// grid of the given width and returns buckets whose start falls in
// [start, end). This is the in-process equivalent of reading a
// materialized flux_bins tier.
func RollupBinnedSums(measurements []*domain.FluxMeasurement, width time.Duration, start, end time.Time) []*domain.BinnedSums {
	byBucket := make(map[int64]*domain.BinnedSums)
	for _, m := range measurements {
		bucketStart := EpochBucketStart(m.Time, width)
		if bucketStart.Before(start) || !bucketStart.Before(end) {
			continue
		}
		key := bucketStart.UnixMicro()
		b, ok := byBucket[key]
		if !ok {
			b = &domain.BinnedSums{
				BucketStart: bucketStart,
				SourceID:    m.SourceID,
				BandID:      m.BandID,
			}
			byBucket[key] = b
		}
		accumulate(b, m)
	}
	return sortedSums(byBucket)
}

// RollupAggregates groups raw measurements onto the epoch-anchored
// grid of the given width and returns partial-aggregate buckets whose
// start satisfies the inclusive range filter. This is the in-process
// equivalent of reading a materialized band_statistics tier.
func RollupAggregates(measurements []*domain.FluxMeasurement, width time.Duration, tr domain.TimeRange) []*domain.PartialAggregateBucket {
	byBucket := make(map[int64]domain.PartialAggregateBucket)
	for _, m := range measurements {
		bucketStart := EpochBucketStart(m.Time, width)
		if tr.Start != nil && bucketStart.Before(*tr.Start) {
			continue
		}
		if tr.End != nil && bucketStart.After(*tr.End) {
			continue
		}
		singleton := FromMeasurement(m)
		singleton.BucketStart = bucketStart
		key := bucketStart.UnixMicro()
		byBucket[key] = Merge(byBucket[key], singleton)
	}

	keys := make([]int64, 0, len(byBucket))
	for k := range byBucket {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]*domain.PartialAggregateBucket, 0, len(keys))
	for _, k := range keys {
		b := byBucket[k]
		out = append(out, &b)
	}
	return out
}

// MergeSums combines two bin rows covering the same bucket field-wise.
// Collated queries use it to merge per-band rows for one bucket. The
// empty row (DataPoints == 0) is the identity.
func MergeSums(a, b *domain.BinnedSums) *domain.BinnedSums {
	if a == nil || a.DataPoints == 0 {
		return b
	}
	if b == nil || b.DataPoints == 0 {
		return a
	}
	return &domain.BinnedSums{
		BucketStart:   a.BucketStart,
		SourceID:      a.SourceID,
		BandID:        a.BandID,
		SumFlux:       a.SumFlux + b.SumFlux,
		SumRA:         a.SumRA + b.SumRA,
		RAPoints:      a.RAPoints + b.RAPoints,
		SumDec:        a.SumDec + b.SumDec,
		DecPoints:     a.DecPoints + b.DecPoints,
		SumErrSquared: a.SumErrSquared + b.SumErrSquared,
		ErrPoints:     a.ErrPoints + b.ErrPoints,
		DataPoints:    a.DataPoints + b.DataPoints,
	}
}

// PointFromSums derives one lightcurve point from a bucket's sums,
// labeled at the bucket center. Flux and position are plain means;
// the uncertainty combines in quadrature, sqrt(sum(err^2)) / count,
// and is nil when no measurement carried a usable uncertainty.
func PointFromSums(b *domain.BinnedSums, width time.Duration) domain.BinnedLightcurvePoint {
	p := domain.BinnedLightcurvePoint{
		Time:       b.BucketStart.Add(width / 2),
		DataPoints: b.DataPoints,
	}
	if b.DataPoints == 0 {
		return p
	}
	p.Flux = b.SumFlux / float64(b.DataPoints)
	if b.RAPoints > 0 {
		v := b.SumRA / float64(b.RAPoints)
		p.RA = &v
	}
	if b.DecPoints > 0 {
		v := b.SumDec / float64(b.DecPoints)
		p.Dec = &v
	}
	if b.ErrPoints > 0 {
		v := math.Sqrt(b.SumErrSquared) / float64(b.ErrPoints)
		p.FluxErr = &v
	}
	return p
}

func accumulate(b *domain.BinnedSums, m *domain.FluxMeasurement) {
	b.SumFlux += m.Flux
	if m.RA != nil {
		b.SumRA += *m.RA
		b.RAPoints++
	}
	if m.Dec != nil {
		b.SumDec += *m.Dec
		b.DecPoints++
	}
	if m.FluxErr != nil && *m.FluxErr != 0 {
		b.SumErrSquared += *m.FluxErr * *m.FluxErr
		b.ErrPoints++
	}
	b.DataPoints++
}

func sortedSums(byBucket map[int64]*domain.BinnedSums) []*domain.BinnedSums {
	out := make([]*domain.BinnedSums, 0, len(byBucket))
	for _, b := range byBucket {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out
}
