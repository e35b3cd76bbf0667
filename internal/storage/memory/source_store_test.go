package memory

import (
	"context"
	"errors"
	"testing"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/storage"
)

func TestSourceStore_InsertAndGet(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	src := &domain.Source{ID: "src1", Name: "3C 273", RA: 187.28, Dec: 2.05}
	if err := store.Insert(ctx, src); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "src1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "3C 273" {
		t.Errorf("Expected name '3C 273', got %q", got.Name)
	}
}

func TestSourceStore_DuplicateKey(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	src := &domain.Source{ID: "src1", Name: "3C 273"}
	if err := store.Insert(ctx, src); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, &domain.Source{ID: "src1", Name: "other"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSourceStore_GetMissing(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	_, err := store.GetByID(ctx, "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSourceStore_List(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	for _, id := range []string{"srcB", "srcA", "srcC"} {
		if err := store.Insert(ctx, &domain.Source{ID: id}); err != nil {
			t.Fatalf("Insert %s failed: %v", id, err)
		}
	}

	result, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("Expected 3 sources, got %d", len(result))
	}
	if result[0].ID != "srcA" || result[1].ID != "srcB" || result[2].ID != "srcC" {
		t.Errorf("Expected sources ordered by ID, got %s,%s,%s",
			result[0].ID, result[1].ID, result[2].ID)
	}
}

func TestSourceStore_DeleteByID(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.Source{ID: "src1"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.DeleteByID(ctx, "src1"); err != nil {
		t.Fatalf("DeleteByID failed: %v", err)
	}

	err := store.DeleteByID(ctx, "src1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for second delete, got %v", err)
	}
}

func TestSourceStore_InvalidInput(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil source, got %v", err)
	}
	if err := store.Insert(ctx, &domain.Source{ID: ""}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty ID, got %v", err)
	}
}

func TestSourceStore_CopyOnRead(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	src := &domain.Source{ID: "src1", Metadata: map[string]string{"survey": "atlas"}}
	if err := store.Insert(ctx, src); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "src1")
	got.Metadata["survey"] = "mutated"

	again, _ := store.GetByID(ctx, "src1")
	if again.Metadata["survey"] != "atlas" {
		t.Errorf("Store data mutated through returned copy: %q", again.Metadata["survey"])
	}
}
