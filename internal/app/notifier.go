package app

import (
	"context"

	"github.com/dshills/undostack/internal/event"
	"github.com/dshills/undostack/internal/event/events"
	"github.com/dshills/undostack/internal/history"
)

// eventSource is the Metadata.Source of history events.
const eventSource = "history"

// BusNotifier publishes history changes on an event bus.
type BusNotifier struct {
	bus     *event.Bus
	stackID string
	logger  *Logger
}

// NewBusNotifier returns a history.Notifier that publishes every change on
// bus under events.TopicForKind(kind), tagged with stackID.
func NewBusNotifier(bus *event.Bus, stackID string, logger *Logger) *BusNotifier {
	if logger == nil {
		logger = NullLogger
	}
	return &BusNotifier{bus: bus, stackID: stackID, logger: logger}
}

// HistoryChanged implements history.Notifier.
func (n *BusNotifier) HistoryChanged(change history.Change) {
	kind := change.Kind.String()
	payload := events.HistoryChanged{
		StackID:   n.stackID,
		Kind:      kind,
		CanUndo:   change.CanUndo,
		CanRedo:   change.CanRedo,
		UndoCount: change.UndoCount,
		RedoCount: change.RedoCount,
	}

	evt := event.NewEvent(events.TopicForKind(kind), payload, eventSource)
	if err := n.bus.Publish(context.Background(), evt); err != nil {
		n.logger.Warn("publish %s: %v", evt.Type, err)
	}
}

// SubscribeChangeLog logs every history change on bus at debug level.
// The handler runs on the bus worker pool after all synchronous handlers.
func SubscribeChangeLog(bus *event.Bus, logger *Logger) (*event.Subscription, error) {
	return bus.Subscribe(events.TopicHistoryChanged.Child("*"),
		event.AsHandler(func(_ context.Context, e event.Event[events.HistoryChanged]) error {
			logger.Debug("%s stack=%s undo=%d redo=%d can_undo=%t can_redo=%t",
				e.Payload.Kind, e.Payload.StackID, e.Payload.UndoCount, e.Payload.RedoCount,
				e.Payload.CanUndo, e.Payload.CanRedo)
			return nil
		}),
		event.WithPriority(event.PriorityLow),
		event.WithDeliveryMode(event.DeliveryAsync),
	)
}
