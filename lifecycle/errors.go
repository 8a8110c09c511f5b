/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  All error kinds in one place. Every engine operation either fully applies
  its transition or fails with one of these and mutates nothing.

ERROR TAXONOMY:
  ErrNotFound      referenced entity does not exist
  ErrForbidden     caller is not the role-holder for this entity
  ErrInvalidState  requested transition is not legal from the current state
  ErrInvalidInput  malformed financial or date inputs
  ErrConflict      uniqueness violation (duplicate contract for application)

USAGE:
  Callers classify with errors.Is or the helpers below:

    if lifecycle.IsInvalidState(err) {
        // 409, message names the conflicting state
    }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrForbidden is returned when the caller does not match the required
	// role-holder (wrong pharmacist on approve, wrong pharmacy on report).
	ErrForbidden = errors.New("caller is not permitted to perform this transition")

	// ErrInvalidState is returned when a transition is requested from a state
	// it is not legal in. Duplicate requests land here by design: approving an
	// already-approved contract is rejected, not silently accepted.
	ErrInvalidState = errors.New("transition not allowed from current state")

	// ErrInvalidInput is returned for malformed financial or date inputs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned on uniqueness violations, e.g. creating a second
	// contract for an application that already has one.
	ErrConflict = errors.New("conflicting record already exists")

	// ErrConcurrentModification is returned when a status-conditioned write
	// finds the row no longer in the expected state.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Entity string // "application", "contract", "payment", "penalty"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ForbiddenError names the role the caller failed to hold.
type ForbiddenError struct {
	Entity string
	ID     string
	Role   string // "pharmacist", "pharmacy"
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("caller is not the %s named on %s %s", e.Role, e.Entity, e.ID)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// InvalidStateError names the conflicting state so the caller can explain
// the required precondition (e.g. "payment not yet reported").
type InvalidStateError struct {
	Entity   string
	ID       string
	Current  string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, must be %s", e.Entity, e.ID, e.Current, e.Required)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConflictError describes a uniqueness violation.
type ConflictError struct {
	Entity  string
	Against string // what it collided with
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists for %s", e.Entity, e.Against)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool    { return errors.Is(err, ErrForbidden) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsConflict covers uniqueness violations and lost status races; both mean
// the request hit a record that moved underneath it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself rather
// than an internal failure.
func IsClientError(err error) bool {
	return IsNotFound(err) || IsForbidden(err) || IsInvalidState(err) ||
		IsInvalidInput(err) || IsConflict(err)
}
