package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Measurements are immutable; there
	// are no updates, only insert and delete.
	ErrDuplicateKey = errors.New("duplicate key: measurements are immutable once written")

	// ErrInvalidInput is returned when input validation fails before any
	// backend I/O is attempted.
	ErrInvalidInput = errors.New("invalid input")
)
