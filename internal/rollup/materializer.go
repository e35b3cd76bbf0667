package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"lightcurvedb/internal/aggregate"
	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/observability"
)

// Execer is the slice of the ClickHouse connection the materializer
// uses. Both DDL and refresh statements go through Exec.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// jobTimeout bounds a single scheduled refresh or retention run.
const jobTimeout = 10 * time.Minute

// Materializer maintains the rollup tables for every materialized tier
// in the catalog: it re-computes each tier's refresh window from raw
// measurements on the tier's cadence and prunes buckets past the
// retention cutoff. Queries read whatever the last run produced;
// freshness is eventual.
type Materializer struct {
	db      Execer
	catalog *Catalog
	log     *zap.Logger
	now     func() time.Time
}

// NewMaterializer creates a materializer over a ClickHouse connection.
func NewMaterializer(db Execer, catalog *Catalog, log *zap.Logger) *Materializer {
	return &Materializer{db: db, catalog: catalog, log: log, now: time.Now}
}

// Setup creates the rollup tables for every materialized tier.
func (m *Materializer) Setup(ctx context.Context) error {
	for _, stmt := range AllDDL(m.catalog) {
		if err := m.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create rollup tables: %w", err)
		}
	}
	return nil
}

// RefreshTier re-materializes one tier's refresh window,
// [now - RefreshStartOffset, now - RefreshEndOffset), aligned down to
// the tier grid so only whole buckets are rewritten. The end offset
// keeps the refresh away from buckets still receiving measurements.
func (m *Materializer) RefreshTier(ctx context.Context, tier domain.RollupTier) error {
	now := m.now()
	start := aggregate.EpochBucketStart(now.Add(-tier.RefreshStartOffset), tier.Width)
	end := aggregate.EpochBucketStart(now.Add(-tier.RefreshEndOffset), tier.Width)
	if !end.After(start) {
		return nil
	}

	for _, table := range []string{StatisticsTable(tier.Label), BinsTable(tier.Label)} {
		if err := m.db.Exec(ctx, deleteWindowSQL(table), start, end); err != nil {
			return fmt.Errorf("clear refresh window of %s: %w", table, err)
		}
	}
	if err := m.db.Exec(ctx, insertStatisticsSQL(tier), start, end); err != nil {
		return fmt.Errorf("materialize %s: %w", StatisticsTable(tier.Label), err)
	}
	if err := m.db.Exec(ctx, insertBinsSQL(tier), start, end); err != nil {
		return fmt.Errorf("materialize %s: %w", BinsTable(tier.Label), err)
	}
	return nil
}

// RefreshAll refreshes every materialized tier once, coarsest last.
// One tier failing does not stop the others; the first error is
// returned after all tiers ran.
func (m *Materializer) RefreshAll(ctx context.Context) error {
	var firstErr error
	for _, tier := range m.catalog.Rollups() {
		if err := m.RefreshTier(ctx, tier); err != nil {
			m.log.Error("rollup refresh failed",
				zap.String("tier", tier.Label.String()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DropExpired deletes a tier's buckets older than its retention
// window.
func (m *Materializer) DropExpired(ctx context.Context, tier domain.RollupTier) error {
	cutoff := aggregate.EpochBucketStart(m.now().Add(-tier.DropAfter), tier.Width)
	for _, table := range []string{StatisticsTable(tier.Label), BinsTable(tier.Label)} {
		if err := m.db.Exec(ctx, dropBeforeSQL(table), cutoff); err != nil {
			return fmt.Errorf("drop expired buckets of %s: %w", table, err)
		}
	}
	return nil
}

// Schedule registers refresh and retention jobs for every materialized
// tier. Cadences are plain durations, so jobs use @every specs. A
// failed run is logged and retried at the next cadence.
func (m *Materializer) Schedule(c *cron.Cron) error {
	for _, tier := range m.catalog.Rollups() {
		refreshSpec := fmt.Sprintf("@every %s", tier.RefreshCadence)
		if _, err := c.AddFunc(refreshSpec, func() { m.runRefresh(tier) }); err != nil {
			return fmt.Errorf("schedule refresh for tier %s: %w", tier.Label, err)
		}
		dropSpec := fmt.Sprintf("@every %s", tier.DropCadence)
		if _, err := c.AddFunc(dropSpec, func() { m.runDrop(tier) }); err != nil {
			return fmt.Errorf("schedule retention for tier %s: %w", tier.Label, err)
		}
	}
	return nil
}

func (m *Materializer) runRefresh(tier domain.RollupTier) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	started := time.Now()
	err := m.RefreshTier(ctx, tier)
	observability.RecordRollupRefresh(tier.Label.String(), err == nil, time.Since(started).Seconds())
	if err != nil {
		m.log.Error("rollup refresh failed",
			zap.String("tier", tier.Label.String()), zap.Error(err))
		return
	}
	m.log.Info("rollup refresh complete",
		zap.String("tier", tier.Label.String()),
		zap.Duration("elapsed", time.Since(started)))
}

func (m *Materializer) runDrop(tier domain.RollupTier) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := m.DropExpired(ctx, tier)
	observability.RecordRollupDrop(tier.Label.String(), err == nil)
	if err != nil {
		m.log.Error("rollup retention failed",
			zap.String("tier", tier.Label.String()), zap.Error(err))
		return
	}
	m.log.Info("rollup retention complete", zap.String("tier", tier.Label.String()))
}
