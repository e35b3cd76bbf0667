package memory

import (
	"context"
	"sort"
	"sync"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// SourceStore is an in-memory implementation of storage.SourceStore.
type SourceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Source // keyed by source ID
}

// NewSourceStore creates a new in-memory source store.
func NewSourceStore() *SourceStore {
	return &SourceStore{
		data: make(map[string]*domain.Source),
	}
}

// Insert adds a source. Returns ErrDuplicateKey if the ID already
// exists.
func (s *SourceStore) Insert(_ context.Context, src *domain.Source) error {
	if src == nil || src.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[src.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[src.ID] = copySource(src)
	return nil
}

// GetByID retrieves a source. Returns ErrNotFound if the ID does not
// exist.
func (s *SourceStore) GetByID(_ context.Context, sourceID string) (*domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, exists := s.data[sourceID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copySource(src), nil
}

// List retrieves all sources ordered by ID.
func (s *SourceStore) List(_ context.Context) ([]*domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Source, 0, len(s.data))
	for _, src := range s.data {
		result = append(result, copySource(src))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// DeleteByID removes a source. Returns ErrNotFound if the ID does not
// exist. Measurements for the source are not touched.
func (s *SourceStore) DeleteByID(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sourceID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, sourceID)
	return nil
}

func copySource(src *domain.Source) *domain.Source {
	c := *src
	if src.Metadata != nil {
		c.Metadata = make(map[string]string, len(src.Metadata))
		for k, v := range src.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

var _ storage.SourceStore = (*SourceStore)(nil)
