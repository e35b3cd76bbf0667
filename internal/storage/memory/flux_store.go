package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"lightcurvedb/internal/aggregate"
	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// FluxStore is an in-memory implementation of storage.FluxStore.
// Rollup and binned reads group raw measurements through the shared
// aggregate grid rules, so results agree with the SQL backends.
type FluxStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FluxMeasurement // keyed by measurement ID
}

// NewFluxStore creates a new in-memory flux store.
func NewFluxStore() *FluxStore {
	return &FluxStore{
		data: make(map[string]*domain.FluxMeasurement),
	}
}

// InsertBatch adds measurements atomically. Fails the entire batch on
// any duplicate, including duplicates within the batch itself.
func (s *FluxStore) InsertBatch(_ context.Context, measurements []*domain.FluxMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchIDs := make(map[string]struct{}, len(measurements))
	for _, m := range measurements {
		if m == nil || m.ID == "" || m.SourceID == "" || m.BandID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[m.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchIDs[m.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[m.ID] = struct{}{}
	}

	for _, m := range measurements {
		s.data[m.ID] = copyMeasurement(m)
	}
	return nil
}

// DeleteByID removes a measurement. Returns ErrNotFound if the ID does
// not exist.
func (s *FluxStore) DeleteByID(_ context.Context, measurementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[measurementID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, measurementID)
	return nil
}

// FetchRaw retrieves measurements for (source, band) with both range
// bounds inclusive, ordered by time ASC.
func (s *FluxStore) FetchRaw(_ context.Context, sourceID, bandID string, tr domain.TimeRange) ([]*domain.FluxMeasurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FluxMeasurement
	for _, m := range s.data {
		if m.SourceID != sourceID || m.BandID != bandID {
			continue
		}
		if tr.Start != nil && m.Time.Before(*tr.Start) {
			continue
		}
		if tr.End != nil && m.Time.After(*tr.End) {
			continue
		}
		result = append(result, copyMeasurement(m))
	}

	sortByTimeAsc(result)
	return result, nil
}

// FetchRollup groups raw measurements onto the tier's epoch-anchored
// grid, filtering bucket starts with both bounds inclusive.
func (s *FluxStore) FetchRollup(_ context.Context, sourceID, bandID string, tier domain.RollupTier, tr domain.TimeRange) ([]*domain.PartialAggregateBucket, error) {
	if tier.IsRaw() {
		return nil, storage.ErrInvalidInput
	}
	return aggregate.RollupAggregates(s.collectRaw(sourceID, bandID), tier.Width, tr), nil
}

// FetchBinnedSums groups raw measurements onto the tier's grid and
// returns buckets with start in [start, end).
func (s *FluxStore) FetchBinnedSums(_ context.Context, sourceID, bandID string, tier domain.RollupTier, start, end time.Time) ([]*domain.BinnedSums, error) {
	if tier.IsRaw() {
		return nil, storage.ErrInvalidInput
	}
	return aggregate.RollupBinnedSums(s.collectRaw(sourceID, bandID), tier.Width, start, end), nil
}

func (s *FluxStore) collectRaw(sourceID, bandID string) []*domain.FluxMeasurement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*domain.FluxMeasurement
	for _, m := range s.data {
		if m.SourceID == sourceID && m.BandID == bandID {
			rows = append(rows, copyMeasurement(m))
		}
	}
	sortByTimeAsc(rows)
	return rows
}

// BandNames retrieves the distinct band names of a source, sorted.
func (s *FluxStore) BandNames(_ context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, m := range s.data {
		if m.SourceID == sourceID {
			seen[m.BandID] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Recent retrieves the newest measurements across all sources, ordered
// by time DESC, at most limit rows.
func (s *FluxStore) Recent(_ context.Context, limit int) ([]*domain.FluxMeasurement, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FluxMeasurement, 0, len(s.data))
	for _, m := range s.data {
		result = append(result, copyMeasurement(m))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Time.Equal(result[j].Time) {
			return result[i].Time.After(result[j].Time)
		}
		return result[i].ID < result[j].ID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyMeasurement(m *domain.FluxMeasurement) *domain.FluxMeasurement {
	c := *m
	c.FluxErr = copyFloat(m.FluxErr)
	c.RA = copyFloat(m.RA)
	c.RAErr = copyFloat(m.RAErr)
	c.Dec = copyFloat(m.Dec)
	c.DecErr = copyFloat(m.DecErr)
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sortByTimeAsc(ms []*domain.FluxMeasurement) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].Time.Equal(ms[j].Time) {
			return ms[i].Time.Before(ms[j].Time)
		}
		return ms[i].ID < ms[j].ID
	})
}

var _ storage.FluxStore = (*FluxStore)(nil)
