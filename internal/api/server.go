// Package api exposes the store over HTTP: statistics, binned
// lightcurves, source CRUD, measurement ingest and a live feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"lightcurvedb/internal/engine"
	"lightcurvedb/internal/export"
	"lightcurvedb/internal/observability"
	"lightcurvedb/internal/storage"
)

// Server wires the engines and stores behind the versioned HTTP API.
type Server struct {
	fluxes  storage.FluxStore
	sources storage.SourceStore
	stats   *engine.StatisticsEngine
	curves  *engine.LightcurveEngine
	reports *export.Generator
	hub     *Hub

	// backend labels ingest metrics with the active store kind.
	backend string
	log     *zap.Logger
}

// Options collects the server dependencies.
type Options struct {
	Fluxes      storage.FluxStore
	Sources     storage.SourceStore
	Statistics  *engine.StatisticsEngine
	Lightcurves *engine.LightcurveEngine
	Reports     *export.Generator
	Hub         *Hub
	Backend     string
	Logger      *zap.Logger
}

// NewServer creates the API server. Hub may be nil to disable the feed.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		fluxes:  opts.Fluxes,
		sources: opts.Sources,
		stats:   opts.Statistics,
		curves:  opts.Lightcurves,
		reports: opts.Reports,
		hub:     opts.Hub,
		backend: opts.Backend,
		log:     log,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/sources", s.handleCreateSource).Methods(http.MethodPost)
	api.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}", s.handleGetSource).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}", s.handleDeleteSource).Methods(http.MethodDelete)

	api.HandleFunc("/sources/{id}/measurements", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/sources/{id}/bands", s.handleBands).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/statistics", s.handleAllBandStatistics).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/statistics/{band}", s.handleBandStatistics).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/lightcurve/{band}", s.handleLightcurve).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/report", s.handleReport).Methods(http.MethodGet)

	api.HandleFunc("/measurements/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/measurements/{id}", s.handleDeleteMeasurement).Methods(http.MethodDelete)

	api.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)

	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondStoreError maps the shared storage errors onto status codes;
// anything unrecognized is a 500 and gets logged.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
