package rollup

import (
	"fmt"

	"lightcurvedb/internal/domain"
)

// measurementsTable is the raw table every tier materializes from.
const measurementsTable = "flux_measurements"

// StatisticsTable returns the name of the partial-aggregate table for
// a tier, e.g. band_statistics_daily.
func StatisticsTable(label domain.TierLabel) string {
	return "band_statistics_" + label.String()
}

// BinsTable returns the name of the pre-binned lightcurve table for a
// tier, e.g. flux_bins_daily.
func BinsTable(label domain.TierLabel) string {
	return "flux_bins_" + label.String()
}

// AllDDL returns the CREATE statements for every materialized tier of
// the catalog, in execution order.
func AllDDL(c *Catalog) []string {
	var stmts []string
	for _, t := range c.Rollups() {
		stmts = append(stmts, statisticsTableDDL(t), binsTableDDL(t))
	}
	return stmts
}

// widthDays returns the tier width in whole days for INTERVAL N DAY
// expressions. DAY intervals bucket on the epoch-anchored grid;
// WEEK and MONTH intervals are calendar-anchored and would put weekly
// buckets on Mondays instead, so they are never used here.
func widthDays(t domain.RollupTier) int {
	return int(t.Width / day)
}

func statisticsTableDDL(t domain.RollupTier) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    bucket_start DateTime64(6, 'UTC'),
    source_id String,
    band_id String,
    sum_flux Float64,
    sum_flux_squared Float64,
    sum_inverse_uncertainty_squared Float64,
    sum_flux_over_uncertainty_squared Float64,
    min_flux Float64,
    max_flux Float64,
    data_points UInt64
) ENGINE = MergeTree()
ORDER BY (source_id, band_id, bucket_start)`, StatisticsTable(t.Label))
}

func binsTableDDL(t domain.RollupTier) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    bucket_start DateTime64(6, 'UTC'),
    source_id String,
    band_id String,
    sum_flux Float64,
    sum_ra Float64,
    ra_points UInt64,
    sum_dec Float64,
    dec_points UInt64,
    sum_err_squared Float64,
    err_points UInt64,
    data_points UInt64
) ENGINE = MergeTree()
ORDER BY (source_id, band_id, bucket_start)`, BinsTable(t.Label))
}

// insertStatisticsSQL recomputes a tier's partial aggregates from raw
// measurements for times in a half-open window bound as (?, ?). The
// uncertainty sums skip null and zero flux_err, matching the shared
// in-process algebra.
func insertStatisticsSQL(t domain.RollupTier) string {
	return fmt.Sprintf(`
INSERT INTO %s
    (bucket_start, source_id, band_id, sum_flux, sum_flux_squared,
     sum_inverse_uncertainty_squared, sum_flux_over_uncertainty_squared,
     min_flux, max_flux, data_points)
SELECT
    toStartOfInterval(time, INTERVAL %d DAY) AS bucket_start,
    source_id,
    band_id,
    sum(flux) AS sum_flux,
    sum(flux * flux) AS sum_flux_squared,
    sum(if(flux_err IS NULL OR flux_err = 0, 0, 1 / (flux_err * flux_err))) AS sum_inverse_uncertainty_squared,
    sum(if(flux_err IS NULL OR flux_err = 0, 0, flux / (flux_err * flux_err))) AS sum_flux_over_uncertainty_squared,
    min(flux) AS min_flux,
    max(flux) AS max_flux,
    count() AS data_points
FROM %s
WHERE time >= ? AND time < ?
GROUP BY bucket_start, source_id, band_id`, StatisticsTable(t.Label), widthDays(t), measurementsTable)
}

// insertBinsSQL recomputes a tier's binned lightcurve sums for times
// in a half-open window bound as (?, ?). Position sums carry their own
// counts because ra and dec are nullable per measurement.
func insertBinsSQL(t domain.RollupTier) string {
	return fmt.Sprintf(`
INSERT INTO %s
    (bucket_start, source_id, band_id, sum_flux, sum_ra, ra_points,
     sum_dec, dec_points, sum_err_squared, err_points, data_points)
SELECT
    toStartOfInterval(time, INTERVAL %d DAY) AS bucket_start,
    source_id,
    band_id,
    sum(flux) AS sum_flux,
    sum(coalesce(ra, 0)) AS sum_ra,
    countIf(ra IS NOT NULL) AS ra_points,
    sum(coalesce(` + "`dec`" + `, 0)) AS sum_dec,
    countIf(` + "`dec`" + ` IS NOT NULL) AS dec_points,
    sum(if(flux_err IS NULL OR flux_err = 0, 0, flux_err * flux_err)) AS sum_err_squared,
    countIf(flux_err IS NOT NULL AND flux_err != 0) AS err_points,
    count() AS data_points
FROM %s
WHERE time >= ? AND time < ?
GROUP BY bucket_start, source_id, band_id`, BinsTable(t.Label), widthDays(t), measurementsTable)
}

// deleteWindowSQL clears one table's buckets in a half-open window
// bound as (?, ?) before re-materialization.
func deleteWindowSQL(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE bucket_start >= ? AND bucket_start < ?", table)
}

// dropBeforeSQL removes buckets older than a cutoff bound as (?).
func dropBeforeSQL(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE bucket_start < ?", table)
}
