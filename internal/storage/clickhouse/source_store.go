package clickhouse

import (
	"context"
	"fmt"
	"time"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// SourceStore implements storage.SourceStore using ClickHouse.
type SourceStore struct {
	conn *Conn
}

// NewSourceStore creates a new SourceStore.
func NewSourceStore(conn *Conn) *SourceStore {
	return &SourceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SourceStore = (*SourceStore)(nil)

const sourceColumns = "id, name, ra, `dec`, metadata, created_at"

// Insert adds a source. MergeTree does not enforce uniqueness, so the
// ID is checked explicitly first.
func (s *SourceStore) Insert(ctx context.Context, src *domain.Source) error {
	if src == nil || src.ID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("check source exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	metadata := src.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO sources ("+sourceColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	if err := batch.Append(src.ID, src.Name, src.RA, src.Dec, metadata, createdAt); err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByID retrieves a source. Returns ErrNotFound if the ID does not
// exist.
func (s *SourceStore) GetByID(ctx context.Context, sourceID string) (*domain.Source, error) {
	query := "SELECT " + sourceColumns + " FROM sources WHERE id = ? LIMIT 1"

	rows, err := s.conn.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get source by id: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get source by id: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return scanSource(rows)
}

// List retrieves all sources ordered by ID.
func (s *SourceStore) List(ctx context.Context) ([]*domain.Source, error) {
	query := "SELECT " + sourceColumns + " FROM sources ORDER BY id ASC"

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return sources, nil
}

// DeleteByID removes a source with a lightweight delete. Returns
// ErrNotFound if the ID does not exist. Measurements for the source
// are not touched.
func (s *SourceStore) DeleteByID(ctx context.Context, sourceID string) error {
	exists, err := s.exists(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("check source exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}

	if err := s.conn.Exec(ctx, "DELETE FROM sources WHERE id = ?", sourceID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

func (s *SourceStore) exists(ctx context.Context, sourceID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, "SELECT count() FROM sources WHERE id = ?", sourceID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanSource(rows chRows) (*domain.Source, error) {
	var src domain.Source
	var metadata map[string]string
	err := rows.Scan(&src.ID, &src.Name, &src.RA, &src.Dec, &metadata, &src.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan source row: %w", err)
	}
	src.CreatedAt = src.CreatedAt.UTC()
	if len(metadata) > 0 {
		src.Metadata = metadata
	}
	return &src, nil
}
