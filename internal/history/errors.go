package history

import (
	"errors"
	"fmt"
)

// Common errors for history operations.
var (
	// ErrNoActionConfigured is returned when an entry is asked to run a
	// direction it has no action for.
	ErrNoActionConfigured = errors.New("no action configured")

	// ErrNothingToUndo is returned when the undo list is empty.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned when the redo list is empty.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrStackBusy is returned when a traversal is already in flight.
	ErrStackBusy = errors.New("history stack busy")

	// ErrActionFailed matches every *ActionError.
	ErrActionFailed = errors.New("action failed")

	// ErrCancelled is returned when a traversal's scope was cancelled
	// before the action completed.
	ErrCancelled = errors.New("traversal cancelled")

	// ErrNilEntry is returned when pushing a nil entry.
	ErrNilEntry = errors.New("entry cannot be nil")

	// ErrEntryOwned is returned when pushing an entry that already
	// belongs to a stack.
	ErrEntryOwned = errors.New("entry already owned by a stack")

	// ErrStackClosed is returned by every operation after Close.
	ErrStackClosed = errors.New("history stack closed")
)

// ActionError wraps an error reported by an undo or redo action.
type ActionError struct {
	// Direction is the traversal direction that failed.
	Direction Direction

	// EntryID identifies the entry whose action failed.
	EntryID string

	// Err is the error returned by the action.
	Err error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action for entry %s failed: %v", e.Direction, e.EntryID, e.Err)
}

// Unwrap returns the underlying action error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match ActionError with ErrActionFailed.
func (e *ActionError) Is(target error) bool {
	return target == ErrActionFailed
}

// ReleasePanicError reports a release handler that panicked.
type ReleasePanicError struct {
	// Value is the value passed to panic().
	Value any
}

// Error implements the error interface.
func (e *ReleasePanicError) Error() string {
	return fmt.Sprintf("release handler panicked: %v", e.Value)
}

// cancelledError builds the error returned for a cancelled traversal,
// keeping the cancellation cause reachable through errors.Is.
func cancelledError(cause error) error {
	if cause == nil || errors.Is(cause, ErrCancelled) {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
