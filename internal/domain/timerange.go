package domain

import "time"

// TimeRange bounds a statistics query. Both ends are optional; a nil
// Start means "from the first measurement", a nil End means "up to the
// latest". Both bounds are inclusive everywhere they are applied.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Valid reports whether the range is well formed: unset bounds are
// always valid, a set pair must satisfy Start < End.
func (r TimeRange) Valid() bool {
	if r.Start == nil || r.End == nil {
		return true
	}
	return r.Start.Before(*r.End)
}
