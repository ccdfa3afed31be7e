/*
errors.go - Centralized error types for the archival engine

ERROR CATEGORIES:
  1. Validation errors - Bad or missing input
  2. Store errors - Read/write failures against the Ledger Store (batch-level
     failures abort a run, per-entity ones are recorded in the manifest)
  3. Scheduling outcomes - Not eligible today (a skip, not a failure),
     run already in progress, period already archived

USAGE:
  if errors.Is(err, ledger.ErrAlreadyArchived) {
      // the period was archived by an earlier run; nothing to reset
  }

SEE ALSO:
  - archive/runner.go: Maps these errors to manifest states
  - store/sqlite/sqlite.go: Produces StoreError values
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad or missing input.
	ErrValidation = errors.New("validation error")

	// ErrStoreRead is returned when the Ledger Store cannot be queried.
	ErrStoreRead = errors.New("store read error")

	// ErrStoreWrite is returned when a write to the Ledger Store fails.
	ErrStoreWrite = errors.New("store write error")

	// ErrNotEligibleToday marks a run whose date gate is closed. Callers
	// treat it as a skip.
	ErrNotEligibleToday = errors.New("job not eligible today")

	// ErrAlreadyArchived is returned when an archive row with the same
	// natural key already exists.
	ErrAlreadyArchived = errors.New("already archived for period")

	// ErrNotFound is returned when a referenced live record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrRunInProgress is returned when another run holds the job lock for
	// the same job kind and period.
	ErrRunInProgress = errors.New("archival run already in progress for period")

	// ErrInvalidPeriod is returned when a period is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrBlobWrite is returned when the transaction snapshot document cannot
	// be stored. Live rows are not touched after it.
	ErrBlobWrite = errors.New("snapshot document write failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StoreError wraps a persistence failure with the operation that failed.
// It unwraps to both its Kind (ErrStoreRead or ErrStoreWrite) and the cause.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ReadError wraps err as a StoreError of kind ErrStoreRead. Domain
// sentinels (not found, already archived) pass through unchanged.
func ReadError(op string, err error) error { return wrapStore(op, ErrStoreRead, err) }

// WriteError wraps err as a StoreError of kind ErrStoreWrite.
func WriteError(op string, err error) error { return wrapStore(op, ErrStoreWrite, err) }

func wrapStore(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyArchived) || errors.Is(err, ErrRunInProgress) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// EntityError records why one entity's archive unit failed. The run keeps
// going; the error ends up in the manifest.
type EntityError struct {
	EntityType string
	EntityID   string
	Step       string // "aggregate", "archive", "reset", "delete"
	Err        error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.EntityType, e.EntityID, e.Step, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// NotEligibleError explains why a job's date gate is closed.
type NotEligibleError struct {
	Job    string
	Reason string
}

func (e *NotEligibleError) Error() string { return e.Reason }

func (e *NotEligibleError) Unwrap() error { return ErrNotEligibleToday }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsTimeout returns true if a store call ran past its deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
