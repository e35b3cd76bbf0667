package export

import (
	"time"

	"lightcurvedb/internal/domain"
)

// SourceReport is the per-source statistics summary rendered by
// RenderMarkdown.
type SourceReport struct {
	GeneratedAt time.Time
	Source      *domain.Source
	Range       domain.TimeRange

	// Bands is sorted by band name. Collated rows (module "all") sort
	// with the rest but do not count toward TotalMeasurements.
	Bands []BandStatisticsRow

	TotalMeasurements int64
}

// BandStatisticsRow is one band's summary line.
type BandStatisticsRow struct {
	Band  string
	Stats *domain.SourceStatistics
}
