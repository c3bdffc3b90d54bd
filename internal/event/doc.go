// Package event provides the publish/subscribe bus used to broadcast
// history changes to interested components.
//
// Events carry a hierarchical topic (see package topic) and a typed
// payload. Subscriptions match topics by pattern and are delivered either
// synchronously in the publisher's goroutine or through a bounded worker
// pool:
//
//	bus := event.NewBus(event.WithAsyncWorkerCount(2))
//	if err := bus.Start(); err != nil {
//	    return err
//	}
//	defer bus.Stop(context.Background())
//
//	bus.Subscribe("history.changed.*", event.AsHandler(
//	    func(ctx context.Context, e event.Event[events.HistoryChanged]) error {
//	        menu.SetUndoEnabled(e.Payload.CanUndo)
//	        return nil
//	    }),
//	    event.WithPriority(event.PriorityCritical),
//	)
//
//	bus.Publish(ctx, event.NewEvent(events.TopicHistoryPushed, payload, "history"))
//
// Delivery is fire-and-forget from the publisher's point of view: handler
// errors and panics are counted in Stats and reported to the optional
// ErrorHandler and PanicHandler, never returned from Publish.
//
// # Subpackages
//
//   - events: history event payloads and topics
//   - topic: topic type and wildcard matching
package event
