package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Event is what every subscriber receives.
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

// Handler consumes one event.
type Handler func(Event)

// Logger is the subset of the platform logger used here.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Subscription detaches a handler when cancelled.
type Subscription struct {
	topic     string
	deliver   func(Event)
	cancelled atomic.Bool
	bus       *Bus
}

// Cancel removes the handler from the bus. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.cancelled.Swap(true) {
		return
	}
	s.bus.detach(s)
}

// Bus is a topic based publish/subscribe hub. A handler that panics is
// recovered and logged and the remaining handlers still run.
//
// Each topic holds one dispatcher on the underlying bus that fans out to the
// live subscriptions in order. The dispatcher is removed with the last one.
//
// Synchronous handlers run while the underlying bus is locked: they must not
// publish, subscribe or cancel on the same Bus. Forward into a channel instead.
type Bus struct {
	bus    evbus.Bus
	logger Logger
	async  *AsyncQueue
	now    func() time.Time

	// regMu serialises registration so a topic never holds two dispatchers.
	regMu  sync.Mutex
	mu     sync.Mutex
	topics map[string][]*Subscription
}

// New creates a bus. asyncWorkers sizes the pool used by SubscribeAsync.
func New(logger Logger, asyncWorkers int) *Bus {
	b := &Bus{
		bus:    evbus.New(),
		logger: logger,
		topics: map[string][]*Subscription{},
		now:    time.Now,
	}
	b.async = NewAsyncQueue(asyncWorkers, 256, b.recovered)
	b.async.Start()
	return b
}

// Subscribe registers a handler that runs on the publisher's goroutine.
func (b *Bus) Subscribe(topic string, fn Handler) *Subscription {
	sub := &Subscription{topic: topic, bus: b}
	sub.deliver = func(e Event) {
		b.safeCall(topic, fn, e)
	}
	b.attach(sub)
	return sub
}

// SubscribeAsync registers a handler that runs on the bus worker pool.
// Deliveries are dropped, and logged, when the pool queue is full.
func (b *Bus) SubscribeAsync(topic string, fn Handler) *Subscription {
	sub := &Subscription{topic: topic, bus: b}
	sub.deliver = func(e Event) {
		if !b.async.Enqueue(func() { fn(e) }, topic) {
			b.warn("async queue full, dropping %s", topic)
		}
	}
	b.attach(sub)
	return sub
}

// Publish delivers payload to every live subscriber of topic.
func (b *Bus) Publish(topic string, payload any) {
	b.bus.Publish(topic, Event{Topic: topic, Payload: payload, At: b.now()})
}

// HasSubscribers reports whether topic has at least one live subscription.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic]) > 0
}

// WaitAsync blocks until queued async deliveries have run.
func (b *Bus) WaitAsync() {
	b.async.Wait()
}

// Close drains and stops the async pool.
func (b *Bus) Close() {
	b.async.Stop()
}

// attach never holds mu while touching the underlying bus: Publish takes
// the bus lock first and mu second.
func (b *Bus) attach(sub *Subscription) {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.mu.Lock()
	b.topics[sub.topic] = append(b.topics[sub.topic], sub)
	first := len(b.topics[sub.topic]) == 1
	b.mu.Unlock()

	if first {
		// Subscribe only fails for non-func handlers.
		_ = b.bus.Subscribe(sub.topic, b.dispatcher(sub.topic))
	}
}

func (b *Bus) detach(sub *Subscription) {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.mu.Lock()
	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	} else {
		b.topics[sub.topic] = subs
	}
	b.mu.Unlock()

	if len(subs) == 0 {
		// handlers are matched by code pointer; the dispatcher is the topic's
		// only handler, so the match is exact
		_ = b.bus.Unsubscribe(sub.topic, b.dispatcher(sub.topic))
	}
}

func (b *Bus) dispatcher(topic string) func(Event) {
	return func(e Event) { b.dispatch(topic, e) }
}

func (b *Bus) dispatch(topic string, e Event) {
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.topics[topic]...)
	b.mu.Unlock()
	for _, s := range subs {
		// a Cancel racing this publish still wins
		if !s.cancelled.Load() {
			s.deliver(e)
		}
	}
}

func (b *Bus) safeCall(topic string, fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.recovered(topic, r)
		}
	}()
	fn(e)
}

func (b *Bus) recovered(topic string, r any) {
	if b.logger != nil {
		b.logger.Error("[事件] subscriber of %s panicked: %v", topic, r)
	}
}

func (b *Bus) warn(format string, args ...any) {
	if b.logger != nil {
		b.logger.Warn("[事件] "+format, args...)
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%s", e.Topic, e.At.Format(time.RFC3339Nano))
}
