package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/undostack/internal/history"
)

// Action runs Lua code as a history.Action. The code receives a scope
// table as its first argument:
//
//	local scope = ...
//	scope.on_release(function() print("released") end)
//	if scope.cancelled() then return end
//
// Lua release handlers run in reverse registration order once the Lua
// call has returned. A Lua error fails the action.
type Action struct {
	state *State
	name  string         // global function name, used when fn is nil
	fn    *lua.LFunction // compiled chunk
}

// NewAction compiles code into an Action. Syntax errors are reported
// here rather than on first run.
func NewAction(state *State, code string) (*Action, error) {
	fn, err := state.Compile(code)
	if err != nil {
		return nil, err
	}
	return &Action{state: state, fn: fn}, nil
}

// NewFuncAction returns an Action that calls the global Lua function name
// with the scope table. The function is looked up on every run.
func NewFuncAction(state *State, name string) *Action {
	return &Action{state: state, name: name}
}

// Run implements history.Action.
func (a *Action) Run(ctx context.Context, scope *history.Scope) error {
	handlers := &releaseHandlers{state: a.state}
	// Registered before the state lock is taken so an already released
	// scope cannot run it while Lua holds the lock.
	scope.OnRelease(handlers.run)

	a.state.mu.Lock()
	defer a.state.mu.Unlock()

	if a.state.closed {
		return ErrStateClosed
	}

	fn := a.fn
	if fn == nil {
		global, ok := a.state.L.GetGlobal(a.name).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %q", ErrFunctionNotFound, a.name)
		}
		fn = global
	}

	if _, err := a.state.callLocked(ctx, fn, handlers.scopeTable(ctx)); err != nil {
		return fmt.Errorf("lua action: %w", err)
	}
	return nil
}

// releaseHandlers collects Lua functions registered with scope.on_release
// during one Run.
type releaseHandlers struct {
	state *State

	mu       sync.Mutex
	fns      []*lua.LFunction
	released bool
}

// scopeTable builds the table passed to Lua. h.state.mu must be held.
func (h *releaseHandlers) scopeTable(ctx context.Context) *lua.LTable {
	L := h.state.L
	t := L.NewTable()
	L.SetField(t, "on_release", L.NewFunction(func(L *lua.LState) int {
		fn := L.CheckFunction(1)

		h.mu.Lock()
		if !h.released {
			h.fns = append(h.fns, fn)
			h.mu.Unlock()
			return 0
		}
		h.mu.Unlock()

		// Already released: run now, as history.Scope does.
		L.Push(fn)
		L.Call(0, 0)
		return 0
	}))
	L.SetField(t, "cancelled", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(ctx.Err() != nil))
		return 1
	}))
	return t
}

// run is the history.Scope release handler. It waits for any Lua call in
// progress, since the state is single-threaded.
func (h *releaseHandlers) run() {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.released = true
	h.mu.Unlock()

	if h.state.closed {
		return
	}
	for i := len(fns) - 1; i >= 0; i-- {
		if _, err := h.state.callLocked(context.Background(), fns[i]); err != nil {
			h.state.reportError(fmt.Errorf("lua release handler: %w", err))
		}
	}
}

// NewEntry builds a history entry whose undo and redo actions are Lua
// chunks. An empty chunk leaves that direction unset.
func NewEntry(state *State, name, undo, redo string) (*history.Entry, error) {
	entry := history.NewEntry(name)
	if undo != "" {
		action, err := NewAction(state, undo)
		if err != nil {
			return nil, fmt.Errorf("undo: %w", err)
		}
		entry.SetUndo(action)
	}
	if redo != "" {
		action, err := NewAction(state, redo)
		if err != nil {
			return nil, fmt.Errorf("redo: %w", err)
		}
		entry.SetRedo(action)
	}
	return entry, nil
}
