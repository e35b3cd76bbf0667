package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

// SourceStore implements storage.SourceStore using PostgreSQL.
type SourceStore struct {
	pool *Pool
}

// NewSourceStore creates a new SourceStore.
func NewSourceStore(pool *Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SourceStore = (*SourceStore)(nil)

const sourceColumns = `id, name, ra, "dec", metadata, created_at`

// Insert adds a source. Returns ErrDuplicateKey if the ID already
// exists.
func (s *SourceStore) Insert(ctx context.Context, src *domain.Source) error {
	if src == nil || src.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sources (id, name, ra, "dec", metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query, src.ID, src.Name, src.RA, src.Dec, jsonArg(src.Metadata), createdAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetByID retrieves a source. Returns ErrNotFound if the ID does not
// exist.
func (s *SourceStore) GetByID(ctx context.Context, sourceID string) (*domain.Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE id = $1
	`

	src, err := scanSource(s.pool.QueryRow(ctx, query, sourceID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get source by id: %w", err)
	}
	return src, nil
}

// List retrieves all sources ordered by ID.
func (s *SourceStore) List(ctx context.Context) ([]*domain.Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return sources, nil
}

// DeleteByID removes a source. Returns ErrNotFound if the ID does not
// exist. Measurements for the source are not touched.
func (s *SourceStore) DeleteByID(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSource(row pgx.Row) (*domain.Source, error) {
	var src domain.Source
	err := row.Scan(&src.ID, &src.Name, &src.RA, &src.Dec, &src.Metadata, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	src.CreatedAt = src.CreatedAt.UTC()
	return &src, nil
}
