package services

import (
	"errors"
	"fmt"

	"github.com/incidentflow/api/db"
)

// Core error kinds. Handlers translate these to transport-level responses;
// nothing below the handler layer ever writes an HTTP status.
var (
	// ErrNotFound is returned when an incident (or user) does not exist in
	// the caller's organization scope. Cross-tenant lookups deliberately
	// return this rather than anything that would reveal the row exists.
	ErrNotFound = errors.New("incident not found")

	// ErrPermissionDenied is returned when the actor's role lacks the
	// capability for an assignment or deletion.
	ErrPermissionDenied = errors.New("permission denied")
)

// InvalidTransitionError is returned when the state machine denies a
// requested status change. Both endpoints are kept so callers can report
// exactly what was attempted.
type InvalidTransitionError struct {
	From db.IncidentStatus
	To   db.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ValidationError is returned for malformed input, e.g. an unknown severity
// or status literal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
