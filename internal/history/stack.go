package history

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ChangeKind identifies the operation that produced a Change.
type ChangeKind int

const (
	// ChangePush is reported after a successful Push.
	ChangePush ChangeKind = iota
	// ChangeUndo is reported after a successful Undo.
	ChangeUndo
	// ChangeRedo is reported after a successful Redo.
	ChangeRedo
	// ChangeClear is reported after a successful Clear.
	ChangeClear
)

// String returns a human-readable kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangePush:
		return "push"
	case ChangeUndo:
		return "undo"
	case ChangeRedo:
		return "redo"
	case ChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Change is the snapshot passed to a Notifier.
type Change struct {
	Kind      ChangeKind
	CanUndo   bool
	CanRedo   bool
	UndoCount int
	RedoCount int
}

// Notifier receives a Change after every successful Push, Undo, Redo and
// Clear. Delivery is fire-and-forget; a panicking notifier is ignored.
type Notifier interface {
	HistoryChanged(change Change)
}

// NotifierFunc is a function adapter for Notifier.
type NotifierFunc func(change Change)

// HistoryChanged implements the Notifier interface.
func (f NotifierFunc) HistoryChanged(change Change) {
	f(change)
}

// EntryInfo describes an entry without exposing it.
type EntryInfo struct {
	ID       string
	Name     string
	PushedAt time.Time
}

// Stack is a linear undo/redo history with single-flight traversal.
//
// At most one Undo or Redo runs at a time. While one is in flight, Push,
// Undo, Redo and Clear fail with ErrStackBusy instead of queueing.
type Stack struct {
	mu sync.Mutex

	undoStack []*Entry
	redoStack []*Entry // next entry to redo is last

	inFlight *Traversal
	closed   bool

	// Configuration
	maxEntries    int
	actionTimeout time.Duration
	notifier      Notifier
	logger        Logger
	tracer        trace.Tracer
}

// NewStack creates an empty stack.
func NewStack(opts ...Option) *Stack {
	s := &Stack{
		logger: nopLogger{},
		tracer: defaultTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push appends e to the undo list and discards the whole redo list.
// Discarded entries have any pending execution cancelled.
func (s *Stack) Push(e *Entry) error {
	if e == nil {
		return ErrNilEntry
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStackClosed
	}
	if s.inFlight != nil {
		s.mu.Unlock()
		return ErrStackBusy
	}
	if !e.attach(s) {
		s.mu.Unlock()
		return ErrEntryOwned
	}

	s.undoStack = append(s.undoStack, e)

	discarded := s.redoStack
	s.redoStack = nil
	discarded = append(discarded, s.trimLocked()...)

	change := s.changeLocked(ChangePush)
	s.mu.Unlock()

	evictAll(discarded)
	s.logger.Debug("push entry=%s name=%q discarded=%d", e.ID(), e.Name(), len(discarded))
	s.notify(change)
	return nil
}

// Undo reverts the most recently pushed entry and blocks until it finishes.
// Cancelling ctx cancels the traversal.
func (s *Stack) Undo(ctx context.Context) error {
	return s.UndoAsync(ctx).Wait()
}

// Redo re-applies the most recently undone entry and blocks until it
// finishes. Cancelling ctx cancels the traversal.
func (s *Stack) Redo(ctx context.Context) error {
	return s.RedoAsync(ctx).Wait()
}

// UndoAsync starts an undo and returns its completion handle. The stack is
// marked busy before UndoAsync returns. Precondition failures are reported
// through a handle that is already done.
func (s *Stack) UndoAsync(ctx context.Context) *Traversal {
	return s.begin(ctx, DirectionUndo)
}

// RedoAsync starts a redo and returns its completion handle.
func (s *Stack) RedoAsync(ctx context.Context) *Traversal {
	return s.begin(ctx, DirectionRedo)
}

func (s *Stack) begin(ctx context.Context, dir Direction) *Traversal {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return rejectedTraversal(dir, ErrStackClosed)
	}
	if s.inFlight != nil {
		s.mu.Unlock()
		return rejectedTraversal(dir, ErrStackBusy)
	}

	list := &s.undoStack
	if dir == DirectionRedo {
		list = &s.redoStack
	}
	if len(*list) == 0 {
		s.mu.Unlock()
		if dir == DirectionRedo {
			return rejectedTraversal(dir, ErrNothingToRedo)
		}
		return rejectedTraversal(dir, ErrNothingToUndo)
	}

	n := len(*list)
	entry := (*list)[n-1]
	(*list)[n-1] = nil
	*list = (*list)[:n-1]

	runCtx := ctx
	var stopTimeout context.CancelFunc
	if s.actionTimeout > 0 {
		runCtx, stopTimeout = context.WithTimeout(runCtx, s.actionTimeout)
	}
	runCtx, span := s.tracer.Start(runCtx, "history."+dir.String(),
		trace.WithAttributes(
			attribute.String("history.entry.id", entry.ID()),
			attribute.String("history.entry.name", entry.Name()),
		),
	)

	t := newTraversal(dir, entry, NewScope(runCtx))
	s.inFlight = t
	s.mu.Unlock()

	s.logger.Debug("%s begin entry=%s", dir, entry.ID())
	go s.finish(t, span, stopTimeout)
	return t
}

// finish runs the traversal's action and settles the lists.
func (s *Stack) finish(t *Traversal, span trace.Span, stopTimeout context.CancelFunc) {
	var err error
	if t.dir == DirectionRedo {
		err = t.entry.RunRedo(t.scope)
	} else {
		err = t.entry.RunUndo(t.scope)
	}
	if stopTimeout != nil {
		stopTimeout()
	}

	var (
		evicted []*Entry
		change  Change
		changed bool
	)

	s.mu.Lock()
	if s.inFlight == t {
		s.inFlight = nil
	}
	switch {
	case err == nil && !s.closed:
		if t.dir == DirectionUndo {
			s.redoStack = append(s.redoStack, t.entry)
			change = s.changeLocked(ChangeUndo)
		} else {
			s.undoStack = append(s.undoStack, t.entry)
			evicted = s.trimLocked()
			change = s.changeLocked(ChangeRedo)
		}
		changed = true
	default:
		// Failed, cancelled, or the stack closed underneath us: the
		// entry leaves history.
		evicted = append(evicted, t.entry)
	}
	s.mu.Unlock()

	evictAll(evicted)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("%s failed entry=%s: %v", t.dir, t.entry.ID(), err)
	} else {
		s.logger.Debug("%s done entry=%s", t.dir, t.entry.ID())
	}
	span.End()

	if changed {
		s.notify(change)
	}
	t.resolve(err)
}

// CanUndo returns true if the undo list is non-empty and no traversal is in
// flight.
func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.inFlight == nil && len(s.undoStack) > 0
}

// CanRedo returns true if the redo list is non-empty and no traversal is in
// flight.
func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.inFlight == nil && len(s.redoStack) > 0
}

// Busy returns true while a traversal is in flight.
func (s *Stack) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != nil
}

// UndoCount returns the number of entries in the undo list.
func (s *Stack) UndoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack)
}

// RedoCount returns the number of entries in the redo list.
func (s *Stack) RedoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redoStack)
}

// PeekUndo returns info about the next entry to undo.
func (s *Stack) PeekUndo() (EntryInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.undoStack) == 0 {
		return EntryInfo{}, false
	}
	return s.undoStack[len(s.undoStack)-1].info(), true
}

// PeekRedo returns info about the next entry to redo.
func (s *Stack) PeekRedo() (EntryInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redoStack) == 0 {
		return EntryInfo{}, false
	}
	return s.redoStack[len(s.redoStack)-1].info(), true
}

// Clear drops every entry from both lists.
func (s *Stack) Clear() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStackClosed
	}
	if s.inFlight != nil {
		s.mu.Unlock()
		return ErrStackBusy
	}

	dropped := append(s.undoStack, s.redoStack...)
	s.undoStack = nil
	s.redoStack = nil
	change := s.changeLocked(ChangeClear)
	s.mu.Unlock()

	evictAll(dropped)
	s.logger.Debug("clear dropped=%d", len(dropped))
	s.notify(change)
	return nil
}

// SetMaxEntries changes the undo list cap. If the list is longer, the
// oldest entries are evicted. Zero or a negative value removes the cap.
func (s *Stack) SetMaxEntries(max int) {
	if max < 0 {
		max = 0
	}

	s.mu.Lock()
	s.maxEntries = max
	evicted := s.trimLocked()
	s.mu.Unlock()

	evictAll(evicted)
}

// MaxEntries returns the undo list cap, or zero when uncapped.
func (s *Stack) MaxEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxEntries
}

// Close destroys the stack. An in-flight traversal is cancelled and every
// entry is evicted. Close waits for the cancelled traversal to resolve, so
// it must not be called from the Notifier. Subsequent operations fail with
// ErrStackClosed.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	current := s.inFlight
	dropped := append(s.undoStack, s.redoStack...)
	s.undoStack = nil
	s.redoStack = nil
	s.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	evictAll(dropped)
	return nil
}

// trimLocked enforces maxEntries and returns the entries it removed.
func (s *Stack) trimLocked() []*Entry {
	if s.maxEntries <= 0 || len(s.undoStack) <= s.maxEntries {
		return nil
	}

	excess := len(s.undoStack) - s.maxEntries
	evicted := make([]*Entry, excess)
	copy(evicted, s.undoStack[:excess])
	n := copy(s.undoStack, s.undoStack[excess:])
	clear(s.undoStack[n:])
	s.undoStack = s.undoStack[:n]
	return evicted
}

func (s *Stack) changeLocked(kind ChangeKind) Change {
	idle := s.inFlight == nil
	return Change{
		Kind:      kind,
		CanUndo:   idle && len(s.undoStack) > 0,
		CanRedo:   idle && len(s.redoStack) > 0,
		UndoCount: len(s.undoStack),
		RedoCount: len(s.redoStack),
	}
}

func (s *Stack) notify(change Change) {
	if s.notifier == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.notifier.HistoryChanged(change)
}

func evictAll(entries []*Entry) {
	for _, e := range entries {
		if e != nil {
			e.evict()
		}
	}
}
