package domain

import (
	"fmt"
	"strings"
)

// ValidationError rejects a mutation before any state change. Field names
// the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AmbiguousMatchError is returned when a fuzzy holding lookup matches more
// than one candidate. No mutation is applied.
type AmbiguousMatchError struct {
	Key        string
	Candidates []Holding
}

func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, h := range e.Candidates {
		ids[i] = h.ID
	}
	return fmt.Sprintf("holding %q matches multiple candidates: %s; use holding id instead",
		e.Key, strings.Join(ids, ", "))
}

// PersistenceError wraps a failed write of the holdings file. The mutation
// that triggered it must not be treated as committed.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist holdings file %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
