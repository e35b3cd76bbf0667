package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// FluxStore implements storage.FluxStore using PostgreSQL. Rollup and
// binned reads aggregate raw rows on the fly with date_bin against the
// Unix epoch, which reproduces the epoch-anchored grid the other
// backends use.
type FluxStore struct {
	pool *Pool
}

// NewFluxStore creates a new FluxStore.
func NewFluxStore(pool *Pool) *FluxStore {
	return &FluxStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FluxStore = (*FluxStore)(nil)

const measurementColumns = `id, source_id, band_id, time, flux, flux_err, ra, ra_err, "dec", dec_err, metadata`

// InsertBatch adds measurements atomically. Fails the entire batch on
// any duplicate ID.
func (s *FluxStore) InsertBatch(ctx context.Context, measurements []*domain.FluxMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}
	for _, m := range measurements {
		if m == nil || m.ID == "" || m.SourceID == "" || m.BandID == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO flux_measurements (` + measurementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, m := range measurements {
		_, err := tx.Exec(ctx, query,
			m.ID, m.SourceID, m.BandID, m.Time,
			m.Flux, m.FluxErr, m.RA, m.RAErr, m.Dec, m.DecErr,
			jsonArg(m.Metadata),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert flux measurement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteByID removes a measurement. Returns ErrNotFound if the ID does
// not exist.
func (s *FluxStore) DeleteByID(ctx context.Context, measurementID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flux_measurements WHERE id = $1`, measurementID)
	if err != nil {
		return fmt.Errorf("delete flux measurement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FetchRaw retrieves measurements for (source, band) with both range
// bounds inclusive, ordered by time ASC.
func (s *FluxStore) FetchRaw(ctx context.Context, sourceID, bandID string, tr domain.TimeRange) ([]*domain.FluxMeasurement, error) {
	query := `
		SELECT ` + measurementColumns + `
		FROM flux_measurements
		WHERE source_id = $1 AND band_id = $2
		  AND ($3::timestamptz IS NULL OR time >= $3)
		  AND ($4::timestamptz IS NULL OR time <= $4)
		ORDER BY time ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, sourceID, bandID, tr.Start, tr.End)
	if err != nil {
		return nil, fmt.Errorf("fetch raw measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// FetchRollup aggregates raw rows onto the tier's epoch-anchored grid.
// The range filter applies to bucket starts, both bounds inclusive.
func (s *FluxStore) FetchRollup(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, tr domain.TimeRange) ([]*domain.PartialAggregateBucket, error) {
	days, err := tierDays(tier)
	if err != nil {
		return nil, err
	}

	// flux_err of zero or NULL contributes nothing to the uncertainty
	// sums; NULLIF folds zero into the NULL case.
	query := fmt.Sprintf(`
		SELECT
			bucket_start,
			SUM(flux),
			SUM(flux * flux),
			COALESCE(SUM(1.0 / NULLIF(POWER(flux_err, 2), 0)), 0),
			COALESCE(SUM(flux / NULLIF(POWER(flux_err, 2), 0)), 0),
			MIN(flux),
			MAX(flux),
			COUNT(*)
		FROM (
			SELECT date_bin(INTERVAL '%d days', time, TIMESTAMPTZ 'epoch') AS bucket_start, flux, flux_err
			FROM flux_measurements
			WHERE source_id = $1 AND band_id = $2
		) AS bucketed
		WHERE ($3::timestamptz IS NULL OR bucket_start >= $3)
		  AND ($4::timestamptz IS NULL OR bucket_start <= $4)
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`, days)

	rows, err := s.pool.Query(ctx, query, sourceID, bandID, tr.Start, tr.End)
	if err != nil {
		return nil, fmt.Errorf("fetch rollup buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*domain.PartialAggregateBucket
	for rows.Next() {
		b := &domain.PartialAggregateBucket{SourceID: sourceID, BandID: bandID}
		err := rows.Scan(
			&b.BucketStart,
			&b.SumFlux, &b.SumFluxSquared,
			&b.SumInverseUncertaintySquared, &b.SumFluxOverUncertaintySquared,
			&b.MinFlux, &b.MaxFlux,
			&b.DataPoints,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rollup bucket: %w", err)
		}
		b.BucketStart = b.BucketStart.UTC()
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup buckets: %w", err)
	}
	return buckets, nil
}

// FetchBinnedSums aggregates raw rows onto the tier's grid and returns
// buckets with start in [start, end).
func (s *FluxStore) FetchBinnedSums(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, start, end time.Time) ([]*domain.BinnedSums, error) {
	days, err := tierDays(tier)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			bucket_start,
			SUM(flux),
			COALESCE(SUM(ra), 0),
			COUNT(ra),
			COALESCE(SUM("dec"), 0),
			COUNT("dec"),
			COALESCE(SUM(flux_err * flux_err) FILTER (WHERE flux_err IS NOT NULL AND flux_err != 0), 0),
			COUNT(*) FILTER (WHERE flux_err IS NOT NULL AND flux_err != 0),
			COUNT(*)
		FROM (
			SELECT date_bin(INTERVAL '%d days', time, TIMESTAMPTZ 'epoch') AS bucket_start, flux, flux_err, ra, "dec"
			FROM flux_measurements
			WHERE source_id = $1 AND band_id = $2
		) AS bucketed
		WHERE bucket_start >= $3 AND bucket_start < $4
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`, days)

	rows, err := s.pool.Query(ctx, query, sourceID, bandID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch binned sums: %w", err)
	}
	defer rows.Close()

	var sums []*domain.BinnedSums
	for rows.Next() {
		b := &domain.BinnedSums{SourceID: sourceID, BandID: bandID}
		err := rows.Scan(
			&b.BucketStart,
			&b.SumFlux,
			&b.SumRA, &b.RAPoints,
			&b.SumDec, &b.DecPoints,
			&b.SumErrSquared, &b.ErrPoints,
			&b.DataPoints,
		)
		if err != nil {
			return nil, fmt.Errorf("scan binned sums: %w", err)
		}
		b.BucketStart = b.BucketStart.UTC()
		sums = append(sums, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate binned sums: %w", err)
	}
	return sums, nil
}

// BandNames retrieves the distinct band names of a source, sorted.
func (s *FluxStore) BandNames(ctx context.Context, sourceID string) ([]string, error) {
	query := `
		SELECT DISTINCT band_id
		FROM flux_measurements
		WHERE source_id = $1
		ORDER BY band_id ASC
	`

	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch band names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan band name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate band names: %w", err)
	}
	return names, nil
}

// Recent retrieves the newest measurements across all sources, ordered
// by time DESC, at most limit rows.
func (s *FluxStore) Recent(ctx context.Context, limit int) ([]*domain.FluxMeasurement, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + measurementColumns + `
		FROM flux_measurements
		ORDER BY time DESC, id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch recent measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

func scanMeasurements(rows pgx.Rows) ([]*domain.FluxMeasurement, error) {
	var measurements []*domain.FluxMeasurement
	for rows.Next() {
		var m domain.FluxMeasurement
		err := rows.Scan(
			&m.ID, &m.SourceID, &m.BandID, &m.Time,
			&m.Flux, &m.FluxErr, &m.RA, &m.RAErr, &m.Dec, &m.DecErr,
			&m.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flux measurement row: %w", err)
		}
		m.Time = m.Time.UTC()
		measurements = append(measurements, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flux measurement rows: %w", err)
	}
	return measurements, nil
}

// tierDays converts a rollup tier width to whole days for the date_bin
// interval. The raw tier has no grid and is rejected.
func tierDays(tier domain.RollupTier) (int, error) {
	if tier.IsRaw() {
		return 0, storage.ErrInvalidInput
	}
	days := int(tier.Width / (24 * time.Hour))
	if days < 1 {
		return 0, storage.ErrInvalidInput
	}
	return days, nil
}

// jsonArg keeps a nil map as SQL NULL instead of JSON null.
func jsonArg(m map[string]string) any {
	if m == nil {
		return nil
	}
	return m
}
