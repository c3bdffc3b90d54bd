package history

// Traversal is the completion handle for one Undo or Redo.
type Traversal struct {
	dir   Direction
	entry *Entry
	scope *Scope

	done chan struct{}
	err  error
}

func newTraversal(dir Direction, entry *Entry, scope *Scope) *Traversal {
	return &Traversal{
		dir:   dir,
		entry: entry,
		scope: scope,
		done:  make(chan struct{}),
	}
}

// rejectedTraversal returns a handle that is already resolved with err.
func rejectedTraversal(dir Direction, err error) *Traversal {
	t := &Traversal{
		dir:  dir,
		done: make(chan struct{}),
	}
	t.resolve(err)
	return t
}

func (t *Traversal) resolve(err error) {
	t.err = err
	close(t.done)
}

// Direction returns whether this is an undo or a redo.
func (t *Traversal) Direction() Direction {
	return t.dir
}

// EntryID returns the ID of the entry being traversed, or "" if the
// traversal was rejected before an entry was selected.
func (t *Traversal) EntryID() string {
	if t.entry == nil {
		return ""
	}
	return t.entry.ID()
}

// Done is closed once the traversal has resolved.
func (t *Traversal) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome once Done is closed, and nil before that.
func (t *Traversal) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the traversal resolves and returns its outcome.
func (t *Traversal) Wait() error {
	<-t.done
	return t.err
}

// Cancel cancels the traversal's scope and waits for it to resolve. When
// Cancel returns the scope's handlers have run and the stack is no longer
// busy with this traversal. The pending call resolves with an error
// matching ErrCancelled unless the action had already finished.
// Cancelling a resolved traversal is a no-op. Cancel must not be called
// from the stack's Notifier.
func (t *Traversal) Cancel() {
	if t.scope == nil {
		return
	}
	t.scope.Cancel()
	<-t.done
}
