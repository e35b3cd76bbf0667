package parquet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lightcurvedb/internal/aggregate"
	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// FluxStore implements storage.FluxStore on a directory of Parquet
// files, one file per source. It suits offline archives and exports
// where no database is reachable. Every write rewrites the affected
// source file through a temp file and rename, so readers never see a
// torn file. Rollup and binned reads are derived in process from the
// raw rows with the shared aggregate algebra, on the same
// epoch-anchored grid the database backends use.
type FluxStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFluxStore creates a store rooted at dir, creating the directory
// if needed.
func NewFluxStore(dir string) (*FluxStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create parquet directory: %w", err)
	}
	return &FluxStore{dir: dir}, nil
}

// Compile-time interface check.
var _ storage.FluxStore = (*FluxStore)(nil)

// sourcePath returns the file holding a source's measurements. The ID
// is path-escaped so it can never traverse out of the directory.
func (s *FluxStore) sourcePath(sourceID string) string {
	return filepath.Join(s.dir, url.PathEscape(sourceID)+".parquet")
}

// InsertBatch adds measurements. Duplicate IDs are rejected against
// the batch itself and against every stored row before anything is
// written. Temp files are staged for all affected sources first and
// renamed into place only after every one encoded, so a failed batch
// leaves the directory untouched.
func (s *FluxStore) InsertBatch(ctx context.Context, measurements []*domain.FluxMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}

	batchIDs := make(map[string]struct{}, len(measurements))
	for _, m := range measurements {
		if m == nil || m.ID == "" || m.SourceID == "" || m.BandID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := batchIDs[m.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[m.ID] = struct{}{}
	}

	added := make(map[string][]*domain.FluxMeasurement)
	for _, m := range measurements {
		added[m.SourceID] = append(added[m.SourceID], m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	current := make(map[string][]*domain.FluxMeasurement)
	for _, m := range existing {
		if _, clash := batchIDs[m.ID]; clash {
			return storage.ErrDuplicateKey
		}
		if _, affected := added[m.SourceID]; affected {
			current[m.SourceID] = append(current[m.SourceID], m)
		}
	}

	staged := make(map[string]string, len(added))
	for sourceID, batch := range added {
		merged := append(current[sourceID], batch...)
		sortByTimeAsc(merged)

		path := s.sourcePath(sourceID)
		tmp, err := stageFile(path, merged)
		if err != nil {
			removeStaged(staged)
			return err
		}
		staged[path] = tmp
	}

	for path, tmp := range staged {
		if err := os.Rename(tmp, path); err != nil {
			removeStaged(staged)
			return fmt.Errorf("replace parquet file: %w", err)
		}
	}
	return nil
}

// DeleteByID removes a measurement, rewriting the file that holds it.
// Returns ErrNotFound if the ID does not exist in any file.
func (s *FluxStore) DeleteByID(ctx context.Context, measurementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.files()
	if err != nil {
		return err
	}

	for _, path := range paths {
		rows, err := readMeasurementsFile(ctx, path)
		if err != nil {
			return err
		}

		idx := -1
		for i, m := range rows {
			if m.ID == measurementID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		rows = append(rows[:idx], rows[idx+1:]...)
		if len(rows) == 0 {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove empty parquet file: %w", err)
			}
			return nil
		}

		tmp, err := stageFile(path, rows)
		if err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("replace parquet file: %w", err)
		}
		return nil
	}
	return storage.ErrNotFound
}

// FetchRaw retrieves measurements for (source, band) with both range
// bounds inclusive, ordered by time ASC.
func (s *FluxStore) FetchRaw(ctx context.Context, sourceID, bandID string, tr domain.TimeRange) ([]*domain.FluxMeasurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.collectBand(ctx, sourceID, bandID)
	if err != nil {
		return nil, err
	}

	result := make([]*domain.FluxMeasurement, 0, len(rows))
	for _, m := range rows {
		if tr.Start != nil && m.Time.Before(*tr.Start) {
			continue
		}
		if tr.End != nil && m.Time.After(*tr.End) {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

// FetchRollup derives partial-aggregate buckets for (source, band)
// from the raw rows at the tier's width.
func (s *FluxStore) FetchRollup(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, tr domain.TimeRange) ([]*domain.PartialAggregateBucket, error) {
	if tier.IsRaw() {
		return nil, fmt.Errorf("%w: rollup fetch needs a materialized tier", storage.ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.collectBand(ctx, sourceID, bandID)
	if err != nil {
		return nil, err
	}
	return aggregate.RollupAggregates(rows, tier.Width, tr), nil
}

// FetchBinnedSums derives pre-binned lightcurve rows for
// (source, band) from the raw rows at the tier's width, bucket starts
// in [start, end).
func (s *FluxStore) FetchBinnedSums(ctx context.Context, sourceID, bandID string, tier domain.RollupTier, start, end time.Time) ([]*domain.BinnedSums, error) {
	if tier.IsRaw() {
		return nil, fmt.Errorf("%w: binned fetch needs a materialized tier", storage.ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.collectBand(ctx, sourceID, bandID)
	if err != nil {
		return nil, err
	}
	return aggregate.RollupBinnedSums(rows, tier.Width, start, end), nil
}

// BandNames retrieves the distinct band names a source has
// measurements in, sorted ascending.
func (s *FluxStore) BandNames(ctx context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.readSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, m := range rows {
		if _, ok := seen[m.BandID]; ok {
			continue
		}
		seen[m.BandID] = struct{}{}
		names = append(names, m.BandID)
	}
	sort.Strings(names)
	return names, nil
}

// Recent retrieves the newest measurements across all sources,
// ordered by time DESC, at most limit rows.
func (s *FluxStore) Recent(ctx context.Context, limit int) ([]*domain.FluxMeasurement, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Time.Equal(rows[j].Time) {
			return rows[i].Time.After(rows[j].Time)
		}
		return rows[i].ID < rows[j].ID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// collectBand reads one source file filtered to a band, time ASC.
// Callers hold the lock.
func (s *FluxStore) collectBand(ctx context.Context, sourceID, bandID string) ([]*domain.FluxMeasurement, error) {
	rows, err := s.readSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	var result []*domain.FluxMeasurement
	for _, m := range rows {
		if m.BandID == bandID {
			result = append(result, m)
		}
	}
	sortByTimeAsc(result)
	return result, nil
}

// readSource reads one source file. A missing file is an empty
// source, not an error. Callers hold the lock.
func (s *FluxStore) readSource(ctx context.Context, sourceID string) ([]*domain.FluxMeasurement, error) {
	path := s.sourcePath(sourceID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return readMeasurementsFile(ctx, path)
}

// readAll reads every measurement in the directory. Callers hold the
// lock.
func (s *FluxStore) readAll(ctx context.Context) ([]*domain.FluxMeasurement, error) {
	paths, err := s.files()
	if err != nil {
		return nil, err
	}

	var all []*domain.FluxMeasurement
	for _, path := range paths {
		rows, err := readMeasurementsFile(ctx, path)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// files lists the measurement files in the directory, sorted by name.
func (s *FluxStore) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read parquet directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func removeStaged(staged map[string]string) {
	for _, tmp := range staged {
		os.Remove(tmp)
	}
}

func sortByTimeAsc(measurements []*domain.FluxMeasurement) {
	sort.Slice(measurements, func(i, j int) bool {
		if !measurements[i].Time.Equal(measurements[j].Time) {
			return measurements[i].Time.Before(measurements[j].Time)
		}
		return measurements[i].ID < measurements[j].ID
	})
}
