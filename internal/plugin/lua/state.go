package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Default limits for Lua state.
const (
	DefaultExecutionTimeout = 5 * time.Second
	DefaultCallStackSize    = 256
)

// State wraps gopher-lua with a sandbox and per-call deadlines.
//
// gopher-lua's LState is not goroutine-safe. Every method takes the state
// mutex, so a State may be shared by actions running on different
// goroutines; their Lua code runs one call at a time.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	callStackSize    int
	output           func(string)
	errorHandler     func(error)

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout bounds every Lua call. Zero disables the bound.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithCallStackSize sets the maximum Lua call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.callStackSize = n
		}
	}
}

// WithOutput redirects Lua's print to fn, one call per printed line.
func WithOutput(fn func(line string)) StateOption {
	return func(s *State) {
		s.output = fn
	}
}

// WithErrorHandler receives errors that have no caller to return to, such
// as a failing Lua release handler.
func WithErrorHandler(fn func(error)) StateOption {
	return func(s *State) {
		s.errorHandler = fn
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		executionTimeout: DefaultExecutionTimeout,
		callStackSize:    DefaultCallStackSize,
		output:           func(string) {},
		errorHandler:     func(error) {},
	}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: state.callStackSize,
	})
	state.L = L

	openSafeLibraries(L)
	installSandbox(L, state.output)

	return state, nil
}

// DoString executes a Lua chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	fn, err := s.L.LoadString(code)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	_, err = s.callLocked(ctx, fn)
	return err
}

// Compile parses code into a function without running it.
func (s *State) Compile(code string) (*lua.LFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, err := s.L.LoadString(code)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return fn, nil
}

// Call calls a global Lua function with the given arguments.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}

	largs := make([]lua.LValue, len(args))
	for i, arg := range args {
		largs[i] = toLua(s.L, arg)
	}

	rets, err := s.callLocked(ctx, fn, largs...)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(rets))
	for i, v := range rets {
		results[i] = toGo(v)
	}
	return results, nil
}

// callLocked runs fn under the execution deadline. s.mu must be held.
func (s *State) callLocked(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (rets []lua.LValue, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, s.executionTimeout, ErrExecutionTimeout)
		defer cancel()
	}
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		s.L.SetTop(top)
	}()

	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		// The VM reports a done context as a plain string error.
		if cause := context.Cause(ctx); cause != nil {
			return nil, fmt.Errorf("%w: %w", cause, err)
		}
		return nil, err
	}

	n := s.L.GetTop() - top
	rets = make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		rets[i] = s.L.Get(top + i + 1)
	}
	return rets, nil
}

// SetGlobals assigns each value in vars to a Lua global.
func (s *State) SetGlobals(vars map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	for name, v := range vars {
		s.L.SetGlobal(name, toLua(s.L, v))
	}
	return nil
}

// Global returns the Go value of a Lua global, or nil.
func (s *State) Global(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return toGo(s.L.GetGlobal(name))
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state.
// After Close is called, all other methods will return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

func (s *State) reportError(err error) {
	if err == nil || errors.Is(err, ErrStateClosed) {
		return
	}
	s.errorHandler(err)
}
