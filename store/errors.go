package store

import "errors"

// Common store errors.
var (
	// ErrNotFound is returned when a record does not exist or has expired.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write's expected version does not
	// match the stored revision; the caller must re-read and retry.
	ErrConflict = errors.New("version conflict")
)
