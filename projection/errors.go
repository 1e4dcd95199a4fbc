/*
errors.go - Centralized error types for the projection engine

PURPOSE:
  All error kinds in one place. Hard errors abort an operation with no partial
  state change; capacity shortfalls during distribution are warnings carried
  inside a still-valid schedule, never errors.

ERROR CATEGORIES:
  1. Precondition errors - locked periods, committed siblings
  2. Transition errors   - illegal snapshot state changes
  3. Lookup errors       - missing periods, snapshots, jobs

USAGE:
  if errors.Is(err, projection.ErrPeriodLocked) { ... }

  var tErr *projection.InvalidTransitionError
  if errors.As(err, &tErr) { log.Println(tErr.From, "->", tErr.To) }
*/
package projection

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPeriodLocked is returned when calculation or commit is attempted
	// against a locked period. Uncommit is the only operation that ignores
	// the lock (it clears it).
	ErrPeriodLocked = errors.New("period is locked")

	// ErrAlreadyCommitted is returned when committing a snapshot while a
	// sibling snapshot for the same period is already committed.
	ErrAlreadyCommitted = errors.New("period already has a committed snapshot")

	// ErrInvalidTransition is returned when activate/commit/uncommit is
	// called on a snapshot whose status forbids the transition.
	ErrInvalidTransition = errors.New("invalid snapshot transition")

	// ErrNotFound is returned when a referenced period, snapshot, or job does
	// not exist in the supplied data.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePeriod is returned when creating a period that already
	// exists for the same (year, month).
	ErrDuplicatePeriod = errors.New("period already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidTransitionError reports an illegal snapshot state change.
type InvalidTransitionError struct {
	SnapshotID string
	From       SnapshotStatus
	To         SnapshotStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("snapshot %s: cannot transition %s -> %s", e.SnapshotID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError identifies what was missing.
type NotFoundError struct {
	Kind string // "period", "snapshot", "job", "project"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether the error is a precondition conflict the caller
// must resolve before retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrAlreadyCommitted) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicatePeriod)
}
