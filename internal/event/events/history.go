package events

import "github.com/dshills/undostack/internal/event/topic"

// History event topics.
const (
	// TopicHistoryChanged is the parent of every history change topic.
	// Subscribe to "history.changed.*" to receive all of them.
	TopicHistoryChanged topic.Topic = "history.changed"

	// TopicHistoryPushed is published after a successful push.
	TopicHistoryPushed topic.Topic = "history.changed.push"

	// TopicHistoryUndone is published after a successful undo.
	TopicHistoryUndone topic.Topic = "history.changed.undo"

	// TopicHistoryRedone is published after a successful redo.
	TopicHistoryRedone topic.Topic = "history.changed.redo"

	// TopicHistoryCleared is published after a successful clear.
	TopicHistoryCleared topic.Topic = "history.changed.clear"
)

// HistoryChanged is the payload for every history change topic.
type HistoryChanged struct {
	// StackID identifies the stack that changed.
	StackID string

	// Kind is the operation that caused the change: push, undo, redo or clear.
	Kind string

	// CanUndo reports whether an undo is currently possible.
	CanUndo bool

	// CanRedo reports whether a redo is currently possible.
	CanRedo bool

	// UndoCount is the length of the undo list.
	UndoCount int

	// RedoCount is the length of the redo list.
	RedoCount int
}

// TopicForKind returns the topic for a change kind name.
func TopicForKind(kind string) topic.Topic {
	return TopicHistoryChanged.Child(kind)
}
