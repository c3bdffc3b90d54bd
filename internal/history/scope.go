package history

import (
	"context"
	"errors"
	"sync"
)

// errScopeReleased is the context cause recorded when a scope is released
// without having been cancelled first.
var errScopeReleased = errors.New("scope released")

// Scope is the cleanup context handed to an action for one run.
//
// Actions register release handlers with OnRelease. The handlers run
// exactly once, in reverse registration order, when the scope is released
// or cancelled. The scope's Context is cancelled at the same time, which is
// how a cooperating action learns that it should stop.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	handlers []func()
	released bool

	// releaseDone is closed once every handler has returned.
	releaseDone chan struct{}
}

// NewScope creates a scope whose context derives from parent.
// Cancelling parent cancels the scope's context but does not release it;
// the owner of the scope still decides when handlers run.
func NewScope(parent context.Context) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Scope{
		ctx:         ctx,
		cancel:      cancel,
		releaseDone: make(chan struct{}),
	}
}

// Context returns the scope's context. It is done once the scope is
// cancelled, released, or its parent is done.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Done is shorthand for Context().Done().
func (s *Scope) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err returns the cause of the scope's cancellation, or nil while it is live.
func (s *Scope) Err() error {
	return context.Cause(s.ctx)
}

// OnRelease registers fn to run when the scope is released.
// If the scope has already been released, fn runs immediately so that
// resources acquired by an action that outlived its call are still freed.
func (s *Scope) OnRelease(fn func()) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = runReleaseHandler(fn)
		return
	}
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Released returns true once Release or Cancel has run.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Cancel cancels the scope's context with ErrCancelled and releases it.
// Like Release, it returns only after every handler has run.
func (s *Scope) Cancel() {
	s.cancel(ErrCancelled)
	_ = s.Release()
}

// Release runs the registered handlers in reverse registration order and
// cancels the scope's context. Only the first call does any work; later
// calls block until that work is finished and return nil. A handler must
// not release its own scope.
// Handlers that panic are recovered; every handler still runs and the
// panics are reported as joined *ReleasePanicError values.
func (s *Scope) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		<-s.releaseDone
		return nil
	}
	s.released = true
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()
	defer close(s.releaseDone)

	s.cancel(errScopeReleased)

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := runReleaseHandler(handlers[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runReleaseHandler runs fn with panic recovery.
func runReleaseHandler(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ReleasePanicError{Value: r}
		}
	}()
	fn()
	return nil
}
