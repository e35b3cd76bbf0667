package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/rollup"
	"lightcurvedb/internal/storage"
	"lightcurvedb/internal/storage/memory"
)

func newTestLightcurveEngine(store storage.FluxStore) *LightcurveEngine {
	return NewLightcurveEngine(store, rollup.DefaultCatalog(), zap.NewNop())
}

func TestLightcurveEngine_InProcessBinning(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", start, 10, nil)
	seedMeasurement(t, store, "m2", "src1", "dish1_857", start.Add(30*time.Minute), 12, nil)
	seedMeasurement(t, store, "m3", "src1", "dish1_857", start.Add(75*time.Minute), 20, nil)

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}

	if lc.Tier != domain.TierRaw {
		t.Errorf("Expected raw tier for an hourly resolution, got %s", lc.Tier)
	}
	if len(lc.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(lc.Points))
	}

	p0 := lc.Points[0]
	if !p0.Time.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("Expected first point at bucket center %v, got %v", start.Add(30*time.Minute), p0.Time)
	}
	if p0.DataPoints != 2 || p0.Flux != 11 {
		t.Errorf("Expected first point 2 measurements flux 11, got %d flux %v", p0.DataPoints, p0.Flux)
	}

	p1 := lc.Points[1]
	if !p1.Time.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("Expected second point at %v, got %v", start.Add(90*time.Minute), p1.Time)
	}
	if p1.DataPoints != 1 || p1.Flux != 20 {
		t.Errorf("Expected second point 1 measurement flux 20, got %d flux %v", p1.DataPoints, p1.Flux)
	}
}

func TestLightcurveEngine_EndExclusive(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", start, 10, nil)
	seedMeasurement(t, store, "m2", "src1", "dish1_857", end, 99, nil) // exactly at end

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}
	if len(lc.Points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(lc.Points))
	}
	if lc.Points[0].DataPoints != 1 {
		t.Errorf("Measurement at the end bound leaked into the window")
	}
}

func TestLightcurveEngine_SparseBucketsOmitted(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", start.Add(10*time.Minute), 10, nil)
	// Nothing in the middle hour.
	seedMeasurement(t, store, "m2", "src1", "dish1_857", start.Add(130*time.Minute), 20, nil)

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}
	if len(lc.Points) != 2 {
		t.Fatalf("Expected 2 points with the empty bucket omitted, got %d", len(lc.Points))
	}
	if !lc.Points[1].Time.Equal(start.Add(150 * time.Minute)) {
		t.Errorf("Expected second point centered at %v, got %v",
			start.Add(150*time.Minute), lc.Points[1].Time)
	}
}

func TestLightcurveEngine_PreBinnedDaily(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	end := day1.AddDate(0, 0, 2)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", day1.Add(10*time.Hour), 10, ptrFloat64(3))
	seedMeasurement(t, store, "m2", "src1", "dish1_857", day1.Add(14*time.Hour), 14, ptrFloat64(4))
	seedMeasurement(t, store, "m3", "src1", "dish1_857", day2.Add(9*time.Hour), 20, nil)

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", 24*time.Hour, day1, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}

	if lc.Tier != domain.TierDaily {
		t.Errorf("Expected daily tier for an aligned daily query, got %s", lc.Tier)
	}
	if len(lc.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(lc.Points))
	}

	p0 := lc.Points[0]
	if !p0.Time.Equal(day1.Add(12 * time.Hour)) {
		t.Errorf("Expected first point at %v, got %v", day1.Add(12*time.Hour), p0.Time)
	}
	if p0.Flux != 12 || p0.DataPoints != 2 {
		t.Errorf("Expected flux 12 from 2 measurements, got %v from %d", p0.Flux, p0.DataPoints)
	}
	// Quadrature: sqrt(3^2 + 4^2) / 2.
	assertStat(t, "flux err", p0.FluxErr, 2.5)

	p1 := lc.Points[1]
	if p1.FluxErr != nil {
		t.Errorf("Expected nil flux err without uncertainties, got %v", *p1.FluxErr)
	}
}

func TestLightcurveEngine_UnalignedBoundsFallBackToRaw(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	// Daily resolution but bounds half an hour off the epoch grid. The
	// query-anchored grid puts both measurements in one bucket; the
	// epoch grid would split them.
	start := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", start.Add(15*time.Minute), 10, nil)
	seedMeasurement(t, store, "m2", "src1", "dish1_857", start.Add(24*time.Hour-15*time.Minute), 20, nil)

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", 24*time.Hour, start, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}
	if lc.Tier != domain.TierRaw {
		t.Errorf("Expected raw tier for unaligned bounds, got %s", lc.Tier)
	}
	if len(lc.Points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(lc.Points))
	}
	if lc.Points[0].DataPoints != 2 {
		t.Errorf("Expected both measurements in one query-anchored bucket, got %d", lc.Points[0].DataPoints)
	}
}

func TestLightcurveEngine_UnusableUncertaintiesExcluded(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", start.Add(5*time.Minute), 10, ptrFloat64(5))
	seedMeasurement(t, store, "m2", "src1", "dish1_857", start.Add(10*time.Minute), 11, nil)
	seedMeasurement(t, store, "m3", "src1", "dish1_857", start.Add(15*time.Minute), 12, ptrFloat64(0))

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}
	if len(lc.Points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(lc.Points))
	}
	// Only the single usable uncertainty counts: sqrt(5^2) / 1.
	assertStat(t, "flux err", lc.Points[0].FluxErr, 5)
}

func TestLightcurveEngine_PositionMeans(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	err := store.InsertBatch(context.Background(), []*domain.FluxMeasurement{
		{ID: "m1", SourceID: "src1", BandID: "dish1_857", Time: start.Add(5 * time.Minute),
			Flux: 10, RA: ptrFloat64(187.0), Dec: ptrFloat64(2.0)},
		{ID: "m2", SourceID: "src1", BandID: "dish1_857", Time: start.Add(10 * time.Minute),
			Flux: 12, RA: ptrFloat64(188.0)},
		{ID: "m3", SourceID: "src1", BandID: "dish1_857", Time: start.Add(15 * time.Minute),
			Flux: 14},
	})
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}
	if len(lc.Points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(lc.Points))
	}
	assertStat(t, "ra", lc.Points[0].RA, 187.5)
	assertStat(t, "dec", lc.Points[0].Dec, 2.0)
}

func TestLightcurveEngine_CollatedBand(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	end := day1.AddDate(0, 0, 2)
	seedMeasurement(t, store, "m1", "src1", "dish1_857", day1.Add(6*time.Hour), 10, nil)
	seedMeasurement(t, store, "m2", "src1", "dish2_857", day1.Add(18*time.Hour), 20, nil)
	seedMeasurement(t, store, "m3", "src1", "dish2_857", day2.Add(6*time.Hour), 30, nil)
	// Different frequency stays out.
	seedMeasurement(t, store, "m4", "src1", "dish1_353", day1.Add(6*time.Hour), 500, nil)

	lc, err := eng.BinnedLightcurve(context.Background(), "src1", "all_857", 24*time.Hour, day1, end)
	if err != nil {
		t.Fatalf("BinnedLightcurve failed: %v", err)
	}

	if lc.Tier != domain.TierDaily {
		t.Errorf("Expected daily tier, got %s", lc.Tier)
	}
	if len(lc.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(lc.Points))
	}
	p0 := lc.Points[0]
	if p0.DataPoints != 2 || p0.Flux != 15 {
		t.Errorf("Expected merged first bucket 2 points flux 15, got %d flux %v", p0.DataPoints, p0.Flux)
	}
	if !lc.Points[0].Time.Before(lc.Points[1].Time) {
		t.Error("Merged points not ordered by time")
	}
}

func TestLightcurveEngine_UnknownSource(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lc, err := eng.BinnedLightcurve(context.Background(), "nope", "dish1_857", time.Hour, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expected empty lightcurve for unknown source, got error %v", err)
	}
	if len(lc.Points) != 0 {
		t.Errorf("Expected 0 points, got %d", len(lc.Points))
	}
	if lc.Points == nil {
		t.Error("Points should be an empty slice, not nil")
	}
}

func TestLightcurveEngine_InvalidInput(t *testing.T) {
	store := memory.NewFluxStore()
	eng := newTestLightcurveEngine(store)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", 0, start, start.Add(time.Hour))
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for zero resolution, got %v", err)
	}

	_, err = eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start, start)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for an empty window, got %v", err)
	}

	_, err = eng.BinnedLightcurve(context.Background(), "src1", "dish1_857", time.Hour, start.Add(time.Hour), start)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for an inverted window, got %v", err)
	}
}
