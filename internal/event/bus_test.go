package event

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/undostack/internal/event/topic"
)

type testPayload struct {
	Value int
}

func newRunningBus(t *testing.T, opts ...BusOption) *Bus {
	t.Helper()
	bus := NewBus(opts...)
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = bus.Stop(context.Background())
	})
	return bus
}

func TestBusLifecycle(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	if bus.IsRunning() {
		t.Error("new bus should not be running")
	}
	if err := bus.Publish(ctx, NewEvent(topic.Topic("a.b"), 1, "test")); !errors.Is(err, ErrBusNotRunning) {
		t.Errorf("Publish() before Start error = %v, want ErrBusNotRunning", err)
	}
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := bus.Start(); !errors.Is(err, ErrBusAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrBusAlreadyRunning", err)
	}
	if err := bus.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := bus.Stop(ctx); !errors.Is(err, ErrBusNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrBusNotRunning", err)
	}
}

func TestBusSyncDelivery(t *testing.T) {
	bus := newRunningBus(t)

	var got []int
	_, err := bus.Subscribe("history.changed.*", AsHandler(func(_ context.Context, e Event[testPayload]) error {
		got = append(got, e.Payload.Value)
		return nil
	}))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx := context.Background()
	_ = bus.Publish(ctx, NewEvent(topic.Topic("history.changed.push"), testPayload{1}, "test"))
	_ = bus.Publish(ctx, NewEvent(topic.Topic("history.changed.undo"), testPayload{2}, "test"))
	_ = bus.Publish(ctx, NewEvent(topic.Topic("config.changed"), testPayload{3}, "test"))

	if want := []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("delivered = %v, want %v", got, want)
	}
	if stats := bus.Stats(); stats.EventsPublished != 3 || stats.EventsDelivered != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestBusPriorityOrder(t *testing.T) {
	bus := newRunningBus(t)

	var order []string
	record := func(name string) HandlerFunc {
		return func(context.Context, any) error {
			order = append(order, name)
			return nil
		}
	}
	_, _ = bus.SubscribeFunc("a.b", record("low"), WithPriority(PriorityLow))
	_, _ = bus.SubscribeFunc("a.b", record("critical"), WithPriority(PriorityCritical))
	_, _ = bus.SubscribeFunc("a.*", record("normal"))

	_ = bus.Publish(context.Background(), NewEvent(topic.Topic("a.b"), 0, "test"))

	if want := []string{"critical", "normal", "low"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBusAsyncDelivery(t *testing.T) {
	bus := newRunningBus(t, WithAsyncWorkerCount(2))

	var wg sync.WaitGroup
	var count atomic.Int32
	wg.Add(3)
	_, err := bus.SubscribeFunc("history.**", func(context.Context, any) error {
		count.Add(1)
		wg.Done()
		return nil
	}, WithDeliveryMode(DeliveryAsync))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = bus.Publish(context.Background(), NewEvent(topic.Topic("history.changed.push"), i, "test"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("async handlers ran %d times, want 3", count.Load())
	}
}

func TestBusStopDrainsQueue(t *testing.T) {
	bus := NewBus(WithAsyncWorkerCount(1))
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var count atomic.Int32
	_, _ = bus.SubscribeFunc("x", func(context.Context, any) error {
		count.Add(1)
		return nil
	}, WithDeliveryMode(DeliveryAsync))

	for i := 0; i < 10; i++ {
		_ = bus.Publish(context.Background(), NewEvent(topic.Topic("x"), i, "test"))
	}
	if err := bus.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if count.Load() != 10 {
		t.Errorf("delivered %d events, want 10", count.Load())
	}
}

func TestBusHandlerErrorsAndPanics(t *testing.T) {
	var reported []error
	var panics []any
	bus := newRunningBus(t,
		WithErrorHandler(func(_ any, err error) { reported = append(reported, err) }),
		WithPanicHandler(func(_ any, r any) { panics = append(panics, r) }),
	)

	boom := errors.New("boom")
	_, _ = bus.SubscribeFunc("a", func(context.Context, any) error { return boom })
	_, _ = bus.SubscribeFunc("a", func(context.Context, any) error { panic("bad handler") })
	reached := false
	_, _ = bus.SubscribeFunc("a", func(context.Context, any) error { reached = true; return nil },
		WithPriority(PriorityLow))

	if err := bus.Publish(context.Background(), NewEvent(topic.Topic("a"), 0, "test")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if !reached {
		t.Error("handler after failing handlers was not reached")
	}
	if len(reported) != 1 || !errors.Is(reported[0], boom) {
		t.Errorf("reported errors = %v", reported)
	}
	if len(panics) != 1 || panics[0] != "bad handler" {
		t.Errorf("panics = %v", panics)
	}
	stats := bus.Stats()
	if stats.HandlerErrors != 1 || stats.HandlerPanics != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestBusOnce(t *testing.T) {
	bus := newRunningBus(t)

	calls := 0
	_, _ = bus.SubscribeFunc("a", func(context.Context, any) error { calls++; return nil }, WithOnce())

	for i := 0; i < 3; i++ {
		_ = bus.Publish(context.Background(), NewEvent(topic.Topic("a"), i, "test"))
	}
	if calls != 1 {
		t.Errorf("once handler called %d times, want 1", calls)
	}
	if bus.Stats().ActiveSubscribers != 0 {
		t.Error("once subscription should be removed after delivery")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := newRunningBus(t)

	calls := 0
	sub, _ := bus.SubscribeFunc("a", func(context.Context, any) error { calls++; return nil })
	if err := bus.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if sub.IsActive() {
		t.Error("subscription still active after Unsubscribe")
	}
	_ = bus.Publish(context.Background(), NewEvent(topic.Topic("a"), 0, "test"))
	if calls != 0 {
		t.Error("handler called after Unsubscribe")
	}
	if err := bus.Unsubscribe(sub); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe() error = %v, want ErrSubscriptionNotFound", err)
	}
	if err := bus.Unsubscribe(nil); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Unsubscribe(nil) error = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestBusSubscribeValidation(t *testing.T) {
	bus := NewBus()

	if _, err := bus.Subscribe("a", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrNilHandler", err)
	}
	if _, err := bus.SubscribeFunc("", func(context.Context, any) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
}

func TestBusPublishInvalidEvent(t *testing.T) {
	bus := newRunningBus(t)
	if err := bus.Publish(context.Background(), "not an event"); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Publish() error = %v, want ErrInvalidEvent", err)
	}
}

func TestAsHandlerSkipsOtherPayloads(t *testing.T) {
	called := false
	h := AsHandler(func(context.Context, Event[testPayload]) error {
		called = true
		return nil
	})
	if err := h.Handle(context.Background(), NewEvent(topic.Topic("a"), "string payload", "test")); err != nil {
		t.Errorf("Handle() error = %v", err)
	}
	if called {
		t.Error("typed handler called for mismatched payload")
	}
}

func TestNewEventMetadata(t *testing.T) {
	e := NewEvent(topic.Topic("a"), 1, "history")
	if e.Metadata.ID == "" {
		t.Error("event ID not set")
	}
	if e.Metadata.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if e.Metadata.Source != "history" {
		t.Errorf("Source = %q, want history", e.Metadata.Source)
	}
	if e.EventTopic() != "a" {
		t.Errorf("EventTopic() = %q, want a", e.EventTopic())
	}
}

func TestPriorityAndDeliveryModeString(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{PriorityCritical.String(), "critical"},
		{PriorityHigh.String(), "high"},
		{PriorityNormal.String(), "normal"},
		{PriorityLow.String(), "low"},
		{DeliverySync.String(), "sync"},
		{DeliveryAsync.String(), "async"},
		{DeliveryMode(7).String(), "unknown"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
