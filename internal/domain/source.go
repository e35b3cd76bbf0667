package domain

import "time"

// Source is a catalog entry for an astronomical object whose flux
// history the store tracks.
type Source struct {
	ID        string
	Name      string
	RA        float64 // catalog right ascension, degrees
	Dec       float64 // catalog declination, degrees
	Metadata  map[string]string
	CreatedAt time.Time
}
