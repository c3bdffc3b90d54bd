// Package history provides a linear undo/redo stack whose steps are
// asynchronous, cancellable actions.
//
// # Entries
//
// An Entry holds at most one undo Action and one redo Action:
//
//	e := history.NewEntry("Rename layer")
//	e.SetUndoFunc(func(ctx context.Context, scope *history.Scope) error {
//	    conn := pool.Get()
//	    scope.OnRelease(func() { pool.Put(conn) })
//	    return conn.Rename(ctx, id, oldName)
//	})
//	e.SetRedoFunc(...)
//
// Actions must be set before the entry is pushed.
//
// # Scopes
//
// Every run gets a fresh Scope. Handlers registered with OnRelease run
// exactly once, newest first, whether the action succeeds, fails, or is
// cancelled. The scope's context is cancelled on release so cooperating
// actions can stop early.
//
// # Stack
//
//	stack := history.NewStack(history.WithMaxEntries(500))
//	stack.Push(e)
//	stack.Undo(ctx)
//	stack.Redo(ctx)
//
// Only one traversal runs at a time; Push, Undo, Redo and Clear fail with
// ErrStackBusy while one is in flight. UndoAsync and RedoAsync return a
// *Traversal handle that can be waited on or cancelled.
//
// A successful undo moves the entry to the redo list and vice versa. A
// failed or cancelled traversal drops the entry from history. Pushing a new
// entry discards the redo list.
package history
