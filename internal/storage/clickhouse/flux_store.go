package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/rollup"
	"lightcurvedb/internal/storage"
)

// FluxStore implements storage.FluxStore using ClickHouse. Raw rows
// live in flux_measurements; rollup reads come from the per-tier
// tables the materializer maintains. Those reads re-aggregate by
// bucket_start so unmerged insert parts covering the same bucket
// collapse back into one row.
type FluxStore struct {
	conn *Conn
}

// NewFluxStore creates a new FluxStore.
func NewFluxStore(conn *Conn) *FluxStore {
	return &FluxStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FluxStore = (*FluxStore)(nil)

const measurementColumns = "id, source_id, band_id, time, flux, flux_err, ra, ra_err, `dec`, dec_err, metadata"

// InsertBatch adds measurements. MergeTree does not enforce
// uniqueness, so duplicates are rejected by explicit checks before the
// batch is sent: against the batch itself and against existing rows.
func (s *FluxStore) InsertBatch(ctx context.Context, measurements []*domain.FluxMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}

	ids := make([]string, 0, len(measurements))
	seen := make(map[string]struct{}, len(measurements))
	for _, m := range measurements {
		if m == nil || m.ID == "" || m.SourceID == "" || m.BandID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[m.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}

	var existing uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count() FROM flux_measurements WHERE has(?, id)", ids).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check existing ids: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx,
		"INSERT INTO flux_measurements ("+measurementColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, m := range measurements {
		metadata := m.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		err = batch.Append(
			m.ID, m.SourceID, m.BandID, m.Time,
			m.Flux, m.FluxErr, m.RA, m.RAErr, m.Dec, m.DecErr,
			metadata,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// DeleteByID removes a measurement with a lightweight delete. Returns
// ErrNotFound if the ID does not exist.
func (s *FluxStore) DeleteByID(ctx context.Context, measurementID string) error {
	var count uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count() FROM flux_measurements WHERE id = ?", measurementID).Scan(&count)
	if err != nil {
		return fmt.Errorf("check measurement exists: %w", err)
	}
	if count == 0 {
		return storage.ErrNotFound
	}

	if err := s.conn.Exec(ctx, "DELETE FROM flux_measurements WHERE id = ?", measurementID); err != nil {
		return fmt.Errorf("delete flux measurement: %w", err)
	}
	return nil
}

// FetchRaw retrieves measurements for (source, band) with both range
// bounds inclusive, ordered by time ASC.
func (s *FluxStore) FetchRaw(ctx context.Context, sourceID, bandID string, tr domain.TimeRange) ([]*domain.FluxMeasurement, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + measurementColumns + " FROM flux_measurements WHERE source_id = ? AND band_id = ?")
	args := []any{sourceID, bandID}

	if tr.Start != nil {
		sb.WriteString(" AND time >= ?")
		args = append(args, *tr.Start)
	}
	if tr.End != nil {
		sb.WriteString(" AND time <= ?")
		args = append(args, *tr.End)
	}
	sb.WriteString(" ORDER BY time ASC, id ASC")

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch raw measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// FetchRollup reads the tier's materialized partial aggregates. The
// range filter applies to bucket starts, both bounds inclusive.
func (s *FluxStore) FetchRollup(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, tr domain.TimeRange) ([]*domain.PartialAggregateBucket, error) {
	if tier.IsRaw() {
		return nil, storage.ErrInvalidInput
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT
			bucket_start,
			sum(sum_flux),
			sum(sum_flux_squared),
			sum(sum_inverse_uncertainty_squared),
			sum(sum_flux_over_uncertainty_squared),
			min(min_flux),
			max(max_flux),
			sum(data_points)
		FROM ` + rollup.StatisticsTable(tier.Label) + `
		WHERE source_id = ? AND band_id = ?`)
	args := []any{sourceID, bandID}

	if tr.Start != nil {
		sb.WriteString(" AND bucket_start >= ?")
		args = append(args, *tr.Start)
	}
	if tr.End != nil {
		sb.WriteString(" AND bucket_start <= ?")
		args = append(args, *tr.End)
	}
	sb.WriteString(" GROUP BY bucket_start ORDER BY bucket_start ASC")

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch rollup buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*domain.PartialAggregateBucket
	for rows.Next() {
		b := &domain.PartialAggregateBucket{SourceID: sourceID, BandID: bandID}
		var dataPoints uint64
		err := rows.Scan(
			&b.BucketStart,
			&b.SumFlux, &b.SumFluxSquared,
			&b.SumInverseUncertaintySquared, &b.SumFluxOverUncertaintySquared,
			&b.MinFlux, &b.MaxFlux,
			&dataPoints,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rollup bucket: %w", err)
		}
		b.BucketStart = b.BucketStart.UTC()
		b.DataPoints = int64(dataPoints)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup buckets: %w", err)
	}
	return buckets, nil
}

// FetchBinnedSums reads the tier's materialized lightcurve sums for
// buckets with start in [start, end).
func (s *FluxStore) FetchBinnedSums(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, start, end time.Time) ([]*domain.BinnedSums, error) {
	if tier.IsRaw() {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT
			bucket_start,
			sum(sum_flux),
			sum(sum_ra),
			sum(ra_points),
			sum(sum_dec),
			sum(dec_points),
			sum(sum_err_squared),
			sum(err_points),
			sum(data_points)
		FROM ` + rollup.BinsTable(tier.Label) + `
		WHERE source_id = ? AND band_id = ? AND bucket_start >= ? AND bucket_start < ?
		GROUP BY bucket_start
		ORDER BY bucket_start ASC`

	rows, err := s.conn.Query(ctx, query, sourceID, bandID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch binned sums: %w", err)
	}
	defer rows.Close()

	var sums []*domain.BinnedSums
	for rows.Next() {
		b := &domain.BinnedSums{SourceID: sourceID, BandID: bandID}
		var raPoints, decPoints, errPoints, dataPoints uint64
		err := rows.Scan(
			&b.BucketStart,
			&b.SumFlux,
			&b.SumRA, &raPoints,
			&b.SumDec, &decPoints,
			&b.SumErrSquared, &errPoints,
			&dataPoints,
		)
		if err != nil {
			return nil, fmt.Errorf("scan binned sums: %w", err)
		}
		b.BucketStart = b.BucketStart.UTC()
		b.RAPoints = int64(raPoints)
		b.DecPoints = int64(decPoints)
		b.ErrPoints = int64(errPoints)
		b.DataPoints = int64(dataPoints)
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
		WHERE source_id = ?
		ORDER BY band_id ASC`

	rows, err := s.conn.Query(ctx, query, sourceID)
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
		LIMIT ?`

	rows, err := s.conn.Query(ctx, query, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("fetch recent measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// Rows interface for scanning.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMeasurements(rows chRows) ([]*domain.FluxMeasurement, error) {
	var measurements []*domain.FluxMeasurement
	for rows.Next() {
		var m domain.FluxMeasurement
		var metadata map[string]string
		err := rows.Scan(
			&m.ID, &m.SourceID, &m.BandID, &m.Time,
			&m.Flux, &m.FluxErr, &m.RA, &m.RAErr, &m.Dec, &m.DecErr,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flux measurement row: %w", err)
		}
		m.Time = m.Time.UTC()
		if len(metadata) > 0 {
			m.Metadata = metadata
		}
		measurements = append(measurements, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flux measurement rows: %w", err)
	}
	return measurements, nil
}
