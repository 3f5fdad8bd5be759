package services

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a reconciliation run is requested for a
// period that already has one executing. Runs are single-writer per period.
var ErrRunInProgress = errors.New("reconciliation run already in progress for this period")

// ValidationError rejects a request before any mutation, naming the offending
// field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
