// Package lua runs Lua code as reversible history actions.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management
//   - Per-call execution deadlines tied to the traversal context
//   - Go-Lua value conversion for globals and call results
//
// # State
//
// The State type manages a Lua runtime with sandboxing:
//
//	state, err := lua.NewState(
//	    lua.WithExecutionTimeout(5 * time.Second),
//	    lua.WithOutput(func(line string) { fmt.Println(line) }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer state.Close()
//
// Only the base, table, string and math libraries are opened. Loaders
// (dofile, loadfile, load, loadstring, require) are removed.
//
// # Actions
//
// An Action is a compiled chunk that receives the traversal scope:
//
//	entry, err := lua.NewEntry(state, "rename",
//	    `name = "old"`,
//	    `local scope = ...
//	     scope.on_release(function() print("redo released") end)
//	     name = "new"`)
//	if err != nil {
//	    return err
//	}
//	stack.Push(entry)
//
// Cancelling the traversal cancels the Lua call's context, which stops the
// VM at its next instruction.
package lua
