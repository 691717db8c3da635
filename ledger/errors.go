/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (rent, latefee) wrap these with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Entry persistence failures and duplicates
  2. Validation errors - Business rule violations on input
  3. Store errors - The backing store could not be reached

USAGE:
  if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
      // Already charged for this period; count as skipped
  }

SEE ALSO:
  - ledger.go: Validation before append
  - rent/engine.go: Maps duplicates to skips and store failures to a
    top-level error
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. For period charges this means the
	// tenancy was already charged for the period.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidEntry is returned when an entry violates a ledger invariant.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrTenancyNotFound is returned when a referenced tenancy doesn't exist.
	ErrTenancyNotFound = errors.New("tenancy not found")

	// ErrUnitNotFound is returned when a referenced unit doesn't exist.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrAlreadyMovedOut is returned when moving out a tenancy twice.
	ErrAlreadyMovedOut = errors.New("tenancy has already moved out")

	// ErrEmptyPeriodLabel is returned for a blank billing period label.
	ErrEmptyPeriodLabel = errors.New("billing period label is empty")

	// ErrStoreUnavailable is returned when the backing store can't be read.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEntry
}

// StoreUnavailableError wraps the underlying store failure.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrEmptyPeriodLabel) ||
		errors.Is(err, ErrAlreadyMovedOut)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTenancyNotFound) ||
		errors.Is(err, ErrUnitNotFound)
}

// IsConflict returns true if the write collided with an existing record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
