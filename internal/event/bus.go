package event

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/undostack/internal/event/topic"
)

// asyncTask is an event queued for an async subscription.
type asyncTask struct {
	ctx   context.Context
	event any
	sub   *Subscription
}

// Bus delivers published events to the subscriptions whose pattern matches
// the event topic. It is safe for concurrent use.
type Bus struct {
	config busConfig

	mu   sync.RWMutex
	subs []*Subscription // sorted by priority

	// Async delivery
	queueMu sync.RWMutex
	queue   chan asyncTask
	wg      sync.WaitGroup
	running atomic.Bool

	// Stats
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errored   atomic.Uint64
	panicked  atomic.Uint64
}

// NewBus creates a new event bus with the given options.
func NewBus(opts ...BusOption) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Bus{config: config}
}

// Start starts the async worker pool.
func (b *Bus) Start() error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	if b.running.Load() {
		return ErrBusAlreadyRunning
	}

	b.queue = make(chan asyncTask, b.config.asyncQueueSize)
	for i := 0; i < b.config.asyncWorkerCount; i++ {
		b.wg.Add(1)
		go b.worker(b.queue)
	}
	b.running.Store(true)
	return nil
}

// Stop stops the bus. Queued async events are drained unless ctx is done
// first.
func (b *Bus) Stop(ctx context.Context) error {
	b.queueMu.Lock()
	if !b.running.Swap(false) {
		b.queueMu.Unlock()
		return ErrBusNotRunning
	}
	close(b.queue)
	b.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the bus is running.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}

// Publish delivers event to every matching subscription. Sync handlers run
// before Publish returns; async handlers are queued, and dropped if the
// queue is full. Handler errors are reported to the ErrorHandler, never
// to the publisher.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if !b.running.Load() {
		return ErrBusNotRunning
	}

	tp, ok := event.(TopicProvider)
	if !ok || !tp.EventTopic().IsValid() {
		return ErrInvalidEvent
	}
	eventTopic := tp.EventTopic()

	b.published.Add(1)
	for _, sub := range b.match(eventTopic) {
		if sub.config.DeliveryMode == DeliveryAsync {
			b.enqueue(ctx, event, sub)
			continue
		}
		b.deliver(ctx, event, sub)
	}
	return nil
}

// Subscribe registers handler for events whose topic matches pattern.
func (b *Bus) Subscribe(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}

	config := SubscriptionConfig{
		Priority:     PriorityNormal,
		DeliveryMode: DeliverySync,
	}
	for _, opt := range opts {
		opt(&config)
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		config:  config,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	sort.SliceStable(b.subs, func(i, j int) bool {
		return b.subs[i].config.Priority < b.subs[j].config.Priority
	})
	b.mu.Unlock()

	return sub, nil
}

// SubscribeFunc is a convenience method for subscribing with a function handler.
func (b *Bus) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (*Subscription, error) {
	return b.Subscribe(pattern, fn, opts...)
}

// Unsubscribe cancels and removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	sub.Cancel()
	if !b.remove(sub.id) {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	active := len(b.subs)
	b.mu.RUnlock()

	return Stats{
		EventsPublished:   b.published.Load(),
		EventsDelivered:   b.delivered.Load(),
		EventsDropped:     b.dropped.Load(),
		HandlerErrors:     b.errored.Load(),
		HandlerPanics:     b.panicked.Load(),
		ActiveSubscribers: active,
	}
}

// match returns the active subscriptions for eventTopic in priority order.
func (b *Bus) match(eventTopic topic.Topic) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*Subscription
	for _, sub := range b.subs {
		if sub.IsActive() && eventTopic.Matches(sub.pattern) {
			result = append(result, sub)
		}
	}
	return result
}

func (b *Bus) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) enqueue(ctx context.Context, event any, sub *Subscription) {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()

	if !b.running.Load() {
		b.dropped.Add(1)
		return
	}

	select {
	case b.queue <- asyncTask{ctx: context.WithoutCancel(ctx), event: event, sub: sub}:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) worker(queue <-chan asyncTask) {
	defer b.wg.Done()
	for task := range queue {
		if task.sub.IsActive() {
			b.deliver(task.ctx, task.event, task.sub)
		}
	}
}

// deliver runs one handler with timeout and panic recovery.
func (b *Bus) deliver(ctx context.Context, event any, sub *Subscription) {
	if b.config.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.handlerTimeout)
		defer cancel()
	}

	err := b.execute(ctx, event, sub)
	switch {
	case err == nil:
		b.delivered.Add(1)
		if sub.config.Once {
			sub.Cancel()
			b.remove(sub.id)
		}
	case errors.Is(err, ErrHandlerPanic):
		b.panicked.Add(1)
	default:
		b.errored.Add(1)
		if b.config.errorHandler != nil {
			b.config.errorHandler(event, err)
		}
	}
}

func (b *Bus) execute(ctx context.Context, event any, sub *Subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Topic: sub.pattern.String(), Value: r}
			if b.config.panicHandler != nil {
				func() {
					defer func() { _ = recover() }()
					b.config.panicHandler(event, r)
				}()
			}
		}
	}()
	return sub.handler.Handle(ctx, event)
}
