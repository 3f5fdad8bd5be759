package repositories

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an optimistic-lock update carries a
	// stale version. Callers should reload and resubmit.
	ErrVersionConflict = errors.New("version conflict")
)
