package storage

import (
	"context"
	"time"

	"lightcurvedb/internal/domain"
)

// FluxStore provides access to flux measurement storage and the rollup
// rows derived from it. Implementations must agree on boundary
// semantics: FetchRaw and FetchRollup filter inclusive on both ends,
// FetchBinnedSums filters half-open [start, end).
type FluxStore interface {
	// InsertBatch adds measurements atomically. Returns ErrDuplicateKey
	// if any measurement ID already exists; measurements are immutable
	// once written.
	InsertBatch(ctx context.Context, measurements []*domain.FluxMeasurement) error

	// DeleteByID removes a measurement. Returns ErrNotFound if the ID
	// does not exist.
	DeleteByID(ctx context.Context, measurementID string) error

	// FetchRaw retrieves raw measurements for (source, band) within the
	// range, both bounds inclusive when set, ordered by time ASC.
	FetchRaw(ctx context.Context, sourceID, bandID string, tr domain.TimeRange) ([]*domain.FluxMeasurement, error)

	// FetchRollup retrieves partial-aggregate buckets at the given tier
	// for (source, band), filtering on bucket start with both bounds
	// inclusive when set, ordered by bucket start ASC. The tier must not
	// be the raw tier.
	FetchRollup(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, tr domain.TimeRange) ([]*domain.PartialAggregateBucket, error)

	// FetchBinnedSums retrieves pre-binned lightcurve rows at the given
	// tier for (source, band) with bucket start in [start, end), ordered
	// by bucket start ASC. Backends without materialized bins derive the
	// rows from raw measurements on an epoch-anchored grid.
	FetchBinnedSums(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, start, end time.Time) ([]*domain.BinnedSums, error)

	// BandNames retrieves the distinct band names a source has
	// measurements in, sorted ascending.
	BandNames(ctx context.Context, sourceID string) ([]string, error)

	// Recent retrieves the newest measurements across all sources,
	// ordered by time DESC, at most limit rows.
	Recent(ctx context.Context, limit int) ([]*domain.FluxMeasurement, error)
}

// SourceStore provides access to the source catalog.
type SourceStore interface {
	// Insert adds a new source. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, s *domain.Source) error

	// GetByID retrieves a source by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, sourceID string) (*domain.Source, error)

	// List retrieves all sources ordered by ID.
	List(ctx context.Context) ([]*domain.Source, error)

	// DeleteByID removes a source. Returns ErrNotFound if not exists.
	DeleteByID(ctx context.Context, sourceID string) error
}
