package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"lightcurvedb/internal/engine"
	"lightcurvedb/internal/export"
	"lightcurvedb/internal/rollup"
	"lightcurvedb/internal/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	fluxes := memory.NewFluxStore()
	sources := memory.NewSourceStore()
	log := zap.NewNop()
	catalog := rollup.DefaultCatalog()
	stats := engine.NewStatisticsEngine(fluxes, catalog, log)

	return NewServer(Options{
		Fluxes:      fluxes,
		Sources:     sources,
		Statistics:  stats,
		Lightcurves: engine.NewLightcurveEngine(fluxes, catalog, log),
		Reports:     export.NewGenerator(sources, stats),
		Backend:     "memory",
		Logger:      log,
	})
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func createTestSource(t *testing.T, srv *Server, id, name string) string {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sources",
		sourcePayload{ID: id, Name: name, RA: 187.28, Dec: 2.05})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create source: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sourceResponse
	decodeBody(t, rec, &resp)
	return resp.ID
}

func ingestTestMeasurements(t *testing.T, srv *Server, sourceID string, payloads []measurementPayload) ingestResponse {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sources/"+sourceID+"/measurements", payloads)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	decodeBody(t, rec, &resp)
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %q", resp["status"])
	}
}

func TestSourceCRUD(t *testing.T) {
	srv := newTestServer(t)

	id := createTestSource(t, srv, "src1", "3C 273")
	if id != "src1" {
		t.Fatalf("Expected explicit ID to be kept, got %s", id)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sources/src1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var got sourceResponse
	decodeBody(t, rec, &got)
	if got.Name != "3C 273" || got.RA != 187.28 {
		t.Errorf("Unexpected source body: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be defaulted")
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sources", nil)
	var list []sourceResponse
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("Expected 1 source, got %d", len(list))
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/sources/src1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/sources/src1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCreateSource_GeneratesID(t *testing.T) {
	srv := newTestServer(t)

	id := createTestSource(t, srv, "", "NGC 5128")
	if id == "" {
		t.Fatal("Expected a generated ID")
	}
	if len(id) != 36 {
		t.Errorf("Expected a UUID-shaped ID, got %q", id)
	}
}

func TestCreateSource_Validation(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sources", sourcePayload{Name: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", rec.Code)
	}

	createTestSource(t, srv, "dup", "First")
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sources", sourcePayload{ID: "dup", Name: "Second"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate ID, got %d", rec.Code)
	}
}

func TestIngestAndRecent(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	now := time.Now().UTC().Truncate(time.Second)
	errVal := 0.5
	resp := ingestTestMeasurements(t, srv, "src1", []measurementPayload{
		{Band: "dish1_857", Time: now.Add(-2 * time.Hour), Flux: 10, FluxErr: &errVal},
		{Band: "dish1_353", Time: now.Add(-1 * time.Hour), Flux: 7, Metadata: map[string]string{"scan": "A7"}},
	})
	if resp.Inserted != 2 || len(resp.IDs) != 2 {
		t.Fatalf("Expected 2 inserted, got %+v", resp)
	}
	for _, id := range resp.IDs {
		if len(id) != 64 {
			t.Errorf("Expected 64-char measurement ID, got %q", id)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/measurements/recent?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var recent []measurementResponse
	decodeBody(t, rec, &recent)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 recent measurements, got %d", len(recent))
	}
	if recent[0].Band != "dish1_353" {
		t.Errorf("Expected newest first, got %s", recent[0].Band)
	}
	if recent[0].Metadata["scan"] != "A7" {
		t.Errorf("Expected metadata round trip, got %v", recent[0].Metadata)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sources/src1/bands", nil)
	var bands []string
	decodeBody(t, rec, &bands)
	if len(bands) != 2 || bands[0] != "dish1_353" || bands[1] != "dish1_857" {
		t.Errorf("Expected sorted band list, got %v", bands)
	}
}

func TestIngest_Validation(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")
	now := time.Now().UTC()

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sources/ghost/measurements",
		[]measurementPayload{{Band: "dish1_857", Time: now, Flux: 1}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown source, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sources/src1/measurements",
		[]measurementPayload{{Band: "not a band", Time: now, Flux: 1}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed band, got %d", rec.Code)
	}

	// Bare frequencies alias the cross-module collation and carry no
	// concrete module to store under.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sources/src1/measurements",
		[]measurementPayload{{Band: "857", Time: now, Flux: 1}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for collation alias, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sources/src1/measurements",
		[]measurementPayload{{Band: "dish1_857", Flux: 1}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing time, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sources/src1/measurements", []measurementPayload{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty batch, got %d", rec.Code)
	}
}

func TestIngest_DuplicateDelivery(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	ts := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	payload := []measurementPayload{{Band: "dish1_857", Time: ts, Flux: 10}}

	first := ingestTestMeasurements(t, srv, "src1", payload)

	// Same (source, band, time) hashes to the same ID, so a replayed
	// delivery conflicts instead of creating a twin.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sources/src1/measurements", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for replayed delivery, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/measurements/"+first.IDs[0], nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 for delete, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/measurements/"+first.IDs[0], nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for double delete, got %d", rec.Code)
	}
}

func TestBandStatistics(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	now := time.Now().UTC().Truncate(time.Second)
	errVal := 2.0
	ingestTestMeasurements(t, srv, "src1", []measurementPayload{
		{Band: "dish1_857", Time: now.Add(-48 * time.Hour), Flux: 10, FluxErr: &errVal},
		{Band: "dish1_857", Time: now.Add(-24 * time.Hour), Flux: 14},
	})

	path := "/api/v1/sources/src1/statistics/dish1_857?start=" +
		now.Add(-72*time.Hour).Format(time.RFC3339)
	rec := doRequest(t, srv, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st statisticsResponse
	decodeBody(t, rec, &st)

	if st.Tier != "raw" {
		t.Errorf("Expected raw tier for a fresh range, got %s", st.Tier)
	}
	if st.MeasurementCount != 2 {
		t.Errorf("Expected 2 measurements, got %d", st.MeasurementCount)
	}
	if st.MeanFlux == nil || *st.MeanFlux != 12 {
		t.Errorf("Expected mean 12, got %v", st.MeanFlux)
	}
	// Only one measurement carries an uncertainty.
	if st.WeightedMean == nil || *st.WeightedMean != 10 {
		t.Errorf("Expected weighted mean 10, got %v", st.WeightedMean)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sources/src1/statistics/dish1_857?start=bad", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed start, got %d", rec.Code)
	}
}

func TestAllBandStatistics_Collate(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	now := time.Now().UTC().Truncate(time.Second)
	ingestTestMeasurements(t, srv, "src1", []measurementPayload{
		{Band: "dish1_857", Time: now.Add(-3 * time.Hour), Flux: 10},
		{Band: "dish2_857", Time: now.Add(-2 * time.Hour), Flux: 20},
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sources/src1/statistics?collate=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var perBand map[string]statisticsResponse
	decodeBody(t, rec, &perBand)

	if len(perBand) != 3 {
		t.Fatalf("Expected 2 bands plus the collated row, got %d", len(perBand))
	}
	collated, ok := perBand["all_857"]
	if !ok {
		t.Fatal("Expected an all_857 entry")
	}
	if collated.MeasurementCount != 2 {
		t.Errorf("Expected collated count 2, got %d", collated.MeasurementCount)
	}
	if collated.MeanFlux == nil || *collated.MeanFlux != 15 {
		t.Errorf("Expected collated mean 15, got %v", collated.MeanFlux)
	}
}

func TestLightcurve(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ingestTestMeasurements(t, srv, "src1", []measurementPayload{
		{Band: "dish1_857", Time: base.Add(10 * time.Minute), Flux: 10},
		{Band: "dish1_857", Time: base.Add(50 * time.Minute), Flux: 14},
		{Band: "dish1_857", Time: base.Add(90 * time.Minute), Flux: 20},
	})

	path := fmt.Sprintf("/api/v1/sources/src1/lightcurve/dish1_857?resolution=1h&start=%s&end=%s",
		base.Format(time.RFC3339), base.Add(3*time.Hour).Format(time.RFC3339))
	rec := doRequest(t, srv, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var lc lightcurveResponse
	decodeBody(t, rec, &lc)

	if lc.Tier != "raw" {
		t.Errorf("Expected in-process binning to report the raw tier, got %s", lc.Tier)
	}
	if lc.Resolution != "1h0m0s" {
		t.Errorf("Unexpected resolution %s", lc.Resolution)
	}
	if len(lc.Points) != 2 {
		t.Fatalf("Expected 2 occupied buckets, got %d", len(lc.Points))
	}
	if !lc.Points[0].Time.Equal(base.Add(30 * time.Minute)) {
		t.Errorf("Expected first label at the bucket center, got %v", lc.Points[0].Time)
	}
	if lc.Points[0].Flux != 12 || lc.Points[0].DataPoints != 2 {
		t.Errorf("Expected first bucket mean 12 over 2 points, got %+v", lc.Points[0])
	}
	if lc.Points[1].Flux != 20 || lc.Points[1].DataPoints != 1 {
		t.Errorf("Expected second bucket mean 20 over 1 point, got %+v", lc.Points[1])
	}
}

func TestLightcurve_CSVExport(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ingestTestMeasurements(t, srv, "src1", []measurementPayload{
		{Band: "dish1_857", Time: base.Add(10 * time.Minute), Flux: 10},
	})

	path := fmt.Sprintf("/api/v1/sources/src1/lightcurve/dish1_857?resolution=1h&format=csv&start=%s&end=%s",
		base.Format(time.RFC3339), base.Add(time.Hour).Format(time.RFC3339))
	rec := doRequest(t, srv, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "time,data_points,flux,flux_err,ra,dec\n") {
		t.Errorf("Expected CSV header, got:\n%s", body)
	}
	if !strings.Contains(body, "2024-03-01T00:30:00Z,1,10.000000") {
		t.Errorf("Expected the binned row, got:\n%s", body)
	}
}

func TestLightcurve_Validation(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	base := "2024-03-01T00:00:00Z"
	end := "2024-03-02T00:00:00Z"

	for name, path := range map[string]string{
		"missing resolution": "/api/v1/sources/src1/lightcurve/dish1_857?start=" + base + "&end=" + end,
		"missing start":      "/api/v1/sources/src1/lightcurve/dish1_857?resolution=1h&end=" + end,
		"missing end":        "/api/v1/sources/src1/lightcurve/dish1_857?resolution=1h&start=" + base,
		"start after end":    "/api/v1/sources/src1/lightcurve/dish1_857?resolution=1h&start=" + end + "&end=" + base,
		"bad format":         "/api/v1/sources/src1/lightcurve/dish1_857?resolution=1h&format=xml&start=" + base + "&end=" + end,
	} {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodGet, path, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSourceReport(t *testing.T) {
	srv := newTestServer(t)
	createTestSource(t, srv, "src1", "3C 273")

	now := time.Now().UTC().Truncate(time.Second)
	ingestTestMeasurements(t, srv, "src1", []measurementPayload{
		{Band: "dish1_857", Time: now.Add(-time.Hour), Flux: 10},
	})

	path := "/api/v1/sources/src1/report?start=" + now.Add(-24*time.Hour).Format(time.RFC3339)
	rec := doRequest(t, srv, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Errorf("Expected markdown content type, got %s", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "# Source Report: 3C 273") {
		t.Errorf("Expected report heading, got:\n%s", body)
	}
	if !strings.Contains(body, "| dish1_857 | raw | 1 |") {
		t.Errorf("Expected band row, got:\n%s", body)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sources/ghost/report", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown source, got %d", rec.Code)
	}
}

func TestRecent_LimitValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/measurements/recent?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-numeric limit, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/measurements/recent?limit=-5", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("Expected Prometheus runtime metrics in the scrape output")
	}
}
