package aggregate

import (
	"math"
	"sort"
)

// Median returns the median flux by linear-interpolation percentile.
// Only the raw tier can produce a median; rollup sums cannot.
func Median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Percentile(sorted, 0.5)
}

// Percentile uses linear interpolation between the two nearest ranks.
// sorted must be pre-sorted ASC. p is the percentile (0.5 = median).
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	weight := pos - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// SampleStddev calculates sample standard deviation (n-1 denominator).
// Returns 0 for fewer than two values; callers that need a null there
// must check the count themselves.
func SampleStddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
