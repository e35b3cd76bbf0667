package aggregate

import "lightcurvedb/internal/domain"

// Statistic enumerates the closed set of statistics the engines
// produce. The set is fixed at compile time; each member carries its
// own derivation from a folded bucket, so there is exactly one formula
// per statistic in the whole system.
type Statistic int

const (
	StatCount Statistic = iota
	StatMin
	StatMax
	StatMean
	StatMedian
	StatStddev
	StatWeightedMean
	StatWeightedError
	StatVariance
)

var statNames = [...]string{
	StatCount:         "measurement_count",
	StatMin:           "min_flux",
	StatMax:           "max_flux",
	StatMean:          "mean_flux",
	StatMedian:        "median_flux",
	StatStddev:        "stddev_flux",
	StatWeightedMean:  "weighted_mean_flux",
	StatWeightedError: "weighted_error_on_mean_flux",
	StatVariance:      "variance_flux",
}

// String returns the wire name of the statistic.
func (s Statistic) String() string {
	if int(s) < 0 || int(s) >= len(statNames) {
		return "unknown"
	}
	return statNames[s]
}

// Decomposable reports whether the statistic can be derived from
// partial-aggregate sums alone. Median and stddev need the raw values
// and are therefore only available from the raw tier.
func (s Statistic) Decomposable() bool {
	return s != StatMedian && s != StatStddev
}

// FromBucket derives the statistic from a folded bucket. Returns nil
// when the statistic is undefined for the bucket or not decomposable.
func (s Statistic) FromBucket(b domain.PartialAggregateBucket) *float64 {
	switch s {
	case StatCount:
		v := float64(b.DataPoints)
		return &v
	case StatMin:
		return Min(b)
	case StatMax:
		return Max(b)
	case StatMean:
		return Mean(b)
	case StatWeightedMean:
		return WeightedMean(b)
	case StatWeightedError:
		return WeightedError(b)
	case StatVariance:
		return Variance(b)
	default:
		return nil
	}
}

// Statistics returns every member of the closed set, in wire order.
func Statistics() []Statistic {
	return []Statistic{
		StatCount, StatMin, StatMax, StatMean, StatMedian,
		StatStddev, StatWeightedMean, StatWeightedError, StatVariance,
	}
}
