package domain

import "time"

// FluxMeasurement is a single calibrated flux sample for a source in one band.
// Measurements are immutable once written; the only mutation is deletion by ID.
type FluxMeasurement struct {
	ID       string    // deterministic measurement identifier (see idhash)
	SourceID string    // source catalog identifier
	BandID   string    // band name, e.g. "ztf_1" (see Band)
	Time     time.Time // observation timestamp, UTC
	Flux     float64   // calibrated flux in band units
	FluxErr  *float64  // 1-sigma uncertainty; nil (or zero) carries no weight
	RA       *float64  // right ascension, degrees
	RAErr    *float64  // 1-sigma RA uncertainty, degrees
	Dec      *float64  // declination, degrees
	DecErr   *float64  // 1-sigma Dec uncertainty, degrees

	// Metadata holds free-form per-measurement annotations
	// (exposure ID, pipeline version, quality flags).
	Metadata map[string]string
}
