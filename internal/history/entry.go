package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is a reversible unit of work run by an Entry.
//
// Run should watch ctx (which is scope.Context()) and return promptly once
// it is done. Resources acquired during the run should be registered with
// scope.OnRelease so they are freed on every exit path.
type Action interface {
	Run(ctx context.Context, scope *Scope) error
}

// ActionFunc is a function adapter for Action.
type ActionFunc func(ctx context.Context, scope *Scope) error

// Run implements the Action interface.
func (f ActionFunc) Run(ctx context.Context, scope *Scope) error {
	return f(ctx, scope)
}

// Direction identifies a traversal direction.
type Direction int

const (
	// DirectionUndo reverts an entry.
	DirectionUndo Direction = iota
	// DirectionRedo re-applies an entry.
	DirectionRedo
)

// String returns "undo" or "redo".
func (d Direction) String() string {
	switch d {
	case DirectionUndo:
		return "undo"
	case DirectionRedo:
		return "redo"
	default:
		return "unknown"
	}
}

// State is the execution state of one direction of an entry.
type State int

const (
	// StateIdle means the direction has not run yet.
	StateIdle State = iota
	// StateRunning means the action is executing.
	StateRunning
	// StateCompleted means the last run succeeded.
	StateCompleted
	// StateFailed means the last run returned an error.
	StateFailed
	// StateCancelled means the last run was cancelled before completing.
	StateCancelled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Entry is a single reversible unit of history. It holds at most one undo
// action and one redo action.
//
// Actions must be set before the entry is pushed onto a Stack. Calling
// SetUndo or SetRedo on an entry that a stack currently owns is a caller
// error and panics. An entry must not be mutated concurrently with its own
// execution.
type Entry struct {
	id   string
	name string

	mu        sync.Mutex
	undo      Action
	redo      Action
	undoState State
	redoState State
	active    *Scope
	owner     *Stack
	pushedAt  time.Time
}

// NewEntry creates an entry with no actions set.
func NewEntry(name string) *Entry {
	return &Entry{
		id:   uuid.NewString(),
		name: name,
	}
}

// IsEntry returns true if v is an *Entry.
func IsEntry(v any) bool {
	e, ok := v.(*Entry)
	return ok && e != nil
}

// ID returns the entry's unique identifier.
func (e *Entry) ID() string {
	return e.id
}

// Name returns the entry's display name.
func (e *Entry) Name() string {
	return e.name
}

// SetUndo replaces the undo action. A nil action clears it.
func (e *Entry) SetUndo(action Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mustBeDetached("SetUndo")
	e.undo = action
}

// SetRedo replaces the redo action. A nil action clears it.
func (e *Entry) SetRedo(action Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mustBeDetached("SetRedo")
	e.redo = action
}

// SetUndoFunc is SetUndo for a plain function. A nil fn clears the action.
func (e *Entry) SetUndoFunc(fn func(ctx context.Context, scope *Scope) error) {
	if fn == nil {
		e.SetUndo(nil)
		return
	}
	e.SetUndo(ActionFunc(fn))
}

// SetRedoFunc is SetRedo for a plain function. A nil fn clears the action.
func (e *Entry) SetRedoFunc(fn func(ctx context.Context, scope *Scope) error) {
	if fn == nil {
		e.SetRedo(nil)
		return
	}
	e.SetRedo(ActionFunc(fn))
}

// HasUndo returns true if an undo action is set.
func (e *Entry) HasUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undo != nil
}

// HasRedo returns true if a redo action is set.
func (e *Entry) HasRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redo != nil
}

// UndoState returns the state of the most recent undo run.
func (e *Entry) UndoState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undoState
}

// RedoState returns the state of the most recent redo run.
func (e *Entry) RedoState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redoState
}

// RunUndo runs the undo action under scope and blocks until it completes
// or the scope is cancelled. The scope is always released before RunUndo
// returns. A nil scope gets a fresh background scope.
func (e *Entry) RunUndo(scope *Scope) error {
	return e.run(DirectionUndo, scope)
}

// RunRedo runs the redo action under scope. See RunUndo.
func (e *Entry) RunRedo(scope *Scope) error {
	return e.run(DirectionRedo, scope)
}

func (e *Entry) run(dir Direction, scope *Scope) error {
	if scope == nil {
		scope = NewScope(context.Background())
	}

	e.mu.Lock()
	action := e.undo
	if dir == DirectionRedo {
		action = e.redo
	}
	if action == nil {
		e.mu.Unlock()
		_ = scope.Release()
		return ErrNoActionConfigured
	}
	if scope.Context().Err() != nil {
		e.setStateLocked(dir, StateCancelled)
		e.mu.Unlock()
		_ = scope.Release()
		return cancelledError(scope.Err())
	}
	e.setStateLocked(dir, StateRunning)
	e.active = scope
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- invoke(scope.Context(), action, scope)
	}()

	var err error
	select {
	case actionErr := <-done:
		err = e.classify(dir, scope, actionErr)
	case <-scope.Done():
		// Completion wins a tie with cancellation.
		select {
		case actionErr := <-done:
			err = e.classify(dir, scope, actionErr)
		default:
			err = cancelledError(scope.Err())
		}
	}

	releaseErr := scope.Release()

	e.mu.Lock()
	if e.active == scope {
		e.active = nil
	}
	switch {
	case err == nil:
		e.setStateLocked(dir, StateCompleted)
	case isCancelled(err):
		e.setStateLocked(dir, StateCancelled)
	default:
		e.setStateLocked(dir, StateFailed)
	}
	e.mu.Unlock()

	if releaseErr != nil {
		if err == nil {
			return releaseErr
		}
		return fmt.Errorf("%w (release: %w)", err, releaseErr)
	}
	return err
}

// classify maps an action's return value to the error reported by run.
func (e *Entry) classify(dir Direction, scope *Scope, actionErr error) error {
	if actionErr == nil {
		return nil
	}
	if scope.Context().Err() != nil {
		return cancelledError(scope.Err())
	}
	return &ActionError{Direction: dir, EntryID: e.id, Err: actionErr}
}

func (e *Entry) setStateLocked(dir Direction, st State) {
	if dir == DirectionRedo {
		e.redoState = st
		return
	}
	e.undoState = st
}

func (e *Entry) mustBeDetached(op string) {
	if e.owner != nil {
		panic(fmt.Sprintf("history: %s called on entry %s while it is owned by a stack", op, e.id))
	}
}

// attach marks the entry as owned by s. It returns false if another
// stack, or s itself, already owns it.
func (e *Entry) attach(s *Stack) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != nil {
		return false
	}
	e.owner = s
	e.pushedAt = time.Now()
	return true
}

// evict drops the entry from its stack, cancelling any execution that is
// still pending. Completed executions are unaffected.
func (e *Entry) evict() {
	e.mu.Lock()
	active := e.active
	e.active = nil
	e.owner = nil
	e.mu.Unlock()

	if active != nil {
		active.Cancel()
	}
}

func (e *Entry) info() EntryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EntryInfo{
		ID:       e.id,
		Name:     e.name,
		PushedAt: e.pushedAt,
	}
}

// invoke runs the action, converting a panic into an error.
func invoke(ctx context.Context, action Action, scope *Scope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action.Run(ctx, scope)
}
