package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/export"
	"lightcurvedb/internal/idhash"
	"lightcurvedb/internal/observability"
	"lightcurvedb/internal/storage"
)

const (
	maxIngestBody  = 10 << 20 // 10 MiB
	defaultRecent  = 50
	maxRecentLimit = 1000
)

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var payload sourcePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	id := payload.ID
	if id == "" {
		id = uuid.NewString()
	}

	src := &domain.Source{
		ID:       id,
		Name:     payload.Name,
		RA:       payload.RA,
		Dec:      payload.Dec,
		Metadata: payload.Metadata,
	}
	if err := s.sources.Insert(r.Context(), src); err != nil {
		s.respondStoreError(w, err)
		return
	}

	// Read back so defaults like CreatedAt are reflected.
	created, err := s.sources.GetByID(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSourceResponse(created))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	list, err := s.sources.List(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	out := make([]sourceResponse, 0, len(list))
	for _, src := range list {
		out = append(out, toSourceResponse(src))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.sources.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSourceResponse(src))
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.sources.DeleteByID(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	if _, err := s.sources.GetByID(r.Context(), sourceID); err != nil {
		s.respondStoreError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	var payloads []measurementPayload
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payloads) == 0 {
		respondError(w, http.StatusBadRequest, "at least one measurement is required")
		return
	}

	measurements := make([]*domain.FluxMeasurement, 0, len(payloads))
	for i, p := range payloads {
		band, err := domain.ParseBand(p.Band)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("measurement %d: %v", i, err))
			return
		}
		if band.IsAll() {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("measurement %d: band %q is a collation alias, ingest needs a concrete module", i, p.Band))
			return
		}
		if p.Time.IsZero() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("measurement %d: time is required", i))
			return
		}

		ts := p.Time.UTC()
		measurements = append(measurements, &domain.FluxMeasurement{
			ID:       idhash.ComputeMeasurementID(sourceID, band.Name(), ts),
			SourceID: sourceID,
			BandID:   band.Name(),
			Time:     ts,
			Flux:     p.Flux,
			FluxErr:  p.FluxErr,
			RA:       p.RA,
			RAErr:    p.RAErr,
			Dec:      p.Dec,
			DecErr:   p.DecErr,
			Metadata: p.Metadata,
		})
	}

	if err := s.fluxes.InsertBatch(r.Context(), measurements); err != nil {
		observability.RecordIngestError(s.backend, ingestErrorKind(err))
		s.respondStoreError(w, err)
		return
	}
	observability.RecordInsert(s.backend, len(measurements))

	ids := make([]string, 0, len(measurements))
	for _, m := range measurements {
		ids = append(ids, m.ID)
		if s.hub != nil {
			s.hub.Broadcast(toMeasurementResponse(m))
		}
	}
	respondJSON(w, http.StatusCreated, ingestResponse{Inserted: len(ids), IDs: ids})
}

func ingestErrorKind(err error) string {
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		return "duplicate"
	case errors.Is(err, storage.ErrInvalidInput):
		return "invalid"
	default:
		return "internal"
	}
}

func (s *Server) handleBands(w http.ResponseWriter, r *http.Request) {
	names, err := s.fluxes.BandNames(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, names)
}

func (s *Server) handleBandStatistics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.stats.SourceStatistics(r.Context(), vars["id"], vars["band"], tr)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toStatisticsResponse(st))
}

func (s *Server) handleAllBandStatistics(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	collate := r.URL.Query().Get("collate") == "true"

	perBand, err := s.stats.AllBandStatistics(r.Context(), mux.Vars(r)["id"], tr, collate)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	out := make(map[string]statisticsResponse, len(perBand))
	for name, st := range perBand {
		out[name] = toStatisticsResponse(st)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleLightcurve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q := r.URL.Query()

	resolution, err := time.ParseDuration(q.Get("resolution"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "resolution must be a Go duration, e.g. 1h or 24h")
		return
	}
	start, err := parseRequiredTime(q.Get("start"), "start")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseRequiredTime(q.Get("end"), "end")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lc, err := s.curves.BinnedLightcurve(r.Context(), vars["id"], vars["band"], resolution, start, end)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		respondJSON(w, http.StatusOK, toLightcurveResponse(lc))
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_%s.csv", vars["id"], vars["band"])))
		w.Write([]byte(export.RenderLightcurveCSV(lc)))
	default:
		respondError(w, http.StatusBadRequest, "format must be json or csv")
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	collate := r.URL.Query().Get("collate") == "true"

	report, err := s.reports.Generate(r.Context(), mux.Vars(r)["id"], tr, collate)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(export.RenderMarkdown(report)))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecent
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxRecentLimit {
			n = maxRecentLimit
		}
		limit = n
	}

	rows, err := s.fluxes.Recent(r.Context(), limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	out := make([]measurementResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMeasurementResponse(m))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteMeasurement(w http.ResponseWriter, r *http.Request) {
	if err := s.fluxes.DeleteByID(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondStoreError(w, err)
		return
	}
	observability.RecordDelete(s.backend)
	w.WriteHeader(http.StatusNoContent)
}

func parseTimeRange(r *http.Request) (domain.TimeRange, error) {
	var tr domain.TimeRange
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return tr, fmt.Errorf("invalid start %q: expected RFC3339", v)
		}
		t = t.UTC()
		tr.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return tr, fmt.Errorf("invalid end %q: expected RFC3339", v)
		}
		t = t.UTC()
		tr.End = &t
	}
	return tr, nil
}

func parseRequiredTime(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: expected RFC3339", name, v)
	}
	return t.UTC(), nil
}
