// Package rollup defines the resolution tier catalog, generates the
// rollup table DDL, and maintains the materialized tiers on a
// schedule. Tier freshness is eventual: queries read whatever the last
// refresh produced.
package rollup

import (
	"time"

	"lightcurvedb/internal/domain"
)

const day = 24 * time.Hour

// DefaultTiers returns the tier catalog ordered finest to coarsest.
// All widths are whole days so every tier shares the epoch-anchored
// grid; the monthly tier is a flat 30 days, not a calendar month.
func DefaultTiers() []domain.RollupTier {
	return []domain.RollupTier{
		{
			Label:         domain.TierRaw,
			Width:         0,
			ThresholdDays: 7,
		},
		{
			Label:              domain.TierDaily,
			Width:              day,
			ThresholdDays:      30,
			RefreshStartOffset: 7 * day,
			RefreshEndOffset:   day,
			RefreshCadence:     day,
			DropAfter:          30 * day,
			DropCadence:        7 * day,
			DisplayCorrection:  0,
		},
		{
			Label:              domain.TierWeekly,
			Width:              7 * day,
			ThresholdDays:      180,
			RefreshStartOffset: 21 * day,
			RefreshEndOffset:   7 * day,
			RefreshCadence:     7 * day,
			DropAfter:          180 * day,
			DropCadence:        30 * day,
			DisplayCorrection:  6 * day,
		},
		{
			Label:              domain.TierMonthly,
			Width:              30 * day,
			ThresholdDays:      3650,
			RefreshStartOffset: 90 * day,
			RefreshEndOffset:   30 * day,
			RefreshCadence:     7 * day,
			DropAfter:          1095 * day,
			DropCadence:        120 * day,
			DisplayCorrection:  29 * day,
		},
	}
}

// Catalog holds the ordered tier list, finest first. Tier selection is
// a pure function of (now, query start); no I/O.
type Catalog struct {
	tiers []domain.RollupTier
}

// NewCatalog creates a catalog from tiers ordered finest to coarsest.
func NewCatalog(tiers []domain.RollupTier) *Catalog {
	return &Catalog{tiers: tiers}
}

// DefaultCatalog creates the standard four-tier catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultTiers())
}

// Select picks the tier that answers a query starting at start. The
// first tier whose ThresholdDays covers the query age wins; an age
// exactly on a threshold selects that tier. A query with no start, or
// one older than every threshold, falls to the coarsest tier: coarse
// tiers trade precision for retained history, so over-selecting coarse
// is the safe default.
func (c *Catalog) Select(now time.Time, start *time.Time) domain.RollupTier {
	if start == nil {
		return c.Coarsest()
	}
	deltaDays := floorDays(now.Sub(*start))
	for _, t := range c.tiers {
		if deltaDays <= t.ThresholdDays {
			return t
		}
	}
	return c.Coarsest()
}

// ByLabel returns the tier with the given label.
func (c *Catalog) ByLabel(label domain.TierLabel) (domain.RollupTier, bool) {
	for _, t := range c.tiers {
		if t.Label == label {
			return t, true
		}
	}
	return domain.RollupTier{}, false
}

// BinnedTier returns the materialized tier whose bucket width equals
// resolution, if any. Ad hoc resolutions have no materialized tier and
// are binned from raw rows instead.
func (c *Catalog) BinnedTier(resolution time.Duration) (domain.RollupTier, bool) {
	for _, t := range c.tiers {
		if !t.IsRaw() && t.Width == resolution {
			return t, true
		}
	}
	return domain.RollupTier{}, false
}

// Raw returns the raw tier.
func (c *Catalog) Raw() domain.RollupTier {
	for _, t := range c.tiers {
		if t.IsRaw() {
			return t
		}
	}
	return domain.RollupTier{Label: domain.TierRaw}
}

// Rollups returns the materialized (non-raw) tiers, finest first.
func (c *Catalog) Rollups() []domain.RollupTier {
	out := make([]domain.RollupTier, 0, len(c.tiers))
	for _, t := range c.tiers {
		if !t.IsRaw() {
			out = append(out, t)
		}
	}
	return out
}

// Coarsest returns the last tier of the catalog.
func (c *Catalog) Coarsest() domain.RollupTier {
	return c.tiers[len(c.tiers)-1]
}

// Tiers returns a copy of the full catalog.
func (c *Catalog) Tiers() []domain.RollupTier {
	out := make([]domain.RollupTier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// floorDays converts a duration to whole days, flooring toward
// negative infinity so a start a few hours in the future counts as
// age -1, not 0.
func floorDays(d time.Duration) int {
	us := d.Microseconds()
	dayUS := day.Microseconds()
	q := us / dayUS
	if us%dayUS != 0 && us < 0 {
		q--
	}
	return int(q)
}
