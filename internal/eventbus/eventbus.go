// Package eventbus is an in-process fan-out notification bus for
// dispatch lifecycle events, used by a Context created with FlagAsync
// to let a host subscribe to call completions instead of blocking on
// CallFunction's return value.
//
// Grounded on commbus/bus.go's InMemoryCommBus: the publish/subscribe
// half of that bus is kept (fan-out to all subscribers, concurrent
// delivery, a middleware chain around each publish); the
// request-response Send/QuerySync half is dropped since every
// request-response path in this domain already goes through
// dispatch.Dispatcher.Dispatch directly and doesn't need a second,
// message-typed indirection.
package eventbus

import (
	"context"
	"reflect"
	"sync"
)

// Event is anything published on the bus. TypedEvent lets an event
// report its own name; events that don't implement it are identified
// by their Go type name instead.
type Event interface{}

// TypedEvent is implemented by events that want an explicit wire name
// instead of their reflected Go type name.
type TypedEvent interface {
	EventType() string
}

// EventType returns ev's identifying name.
func EventType(ev Event) string {
	if typed, ok := ev.(TypedEvent); ok {
		return typed.EventType()
	}
	t := reflect.TypeOf(ev)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	return t.Name()
}

// Handler processes one published event. A handler returns nothing; if
// it panics, the bus recovers, logs the panic and counts it in the
// failures passed to each middleware's After.
type Handler func(ctx context.Context, ev Event)

// Middleware wraps every publish with cross-cutting behavior (logging,
// circuit breaking) before fan-out runs.
type Middleware interface {
	// Before runs once per Publish call. Returning ok=false aborts
	// delivery to subscribers without an error.
	Before(ctx context.Context, ev Event) (out Event, ok bool)
	// After runs once per Publish call, once all subscribers have run.
	After(ctx context.Context, ev Event, failures int)
}

// Logger is the narrow structured-logging surface eventbus needs,
// redeclared locally per the package's own logging convention.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a thread-safe, in-process publish/subscribe fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	middleware  []Middleware
	nextSubID   uint64
	logger      Logger
}

// New creates an empty Bus. A nil logger is replaced with a no-op one.
func New(logger Logger) *Bus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		subscribers: make(map[string][]subscription),
		logger:      logger,
	}
}

// AddMiddleware appends mw to the chain run around every Publish,
// in registration order.
func (b *Bus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Subscribe registers handler for every event whose EventType matches
// eventType. It returns an idempotent unsubscribe function.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish runs the middleware chain then fans ev out to every
// subscriber of its event type concurrently, one goroutine per
// subscriber. Publish returns only after every subscriber has
// finished, so a slow handler delays the publisher; a subscriber panic
// is recovered and reported to the middleware's After as a failure.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	eventType := EventType(ev)

	b.mu.RLock()
	middleware := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	current := ev
	for _, mw := range middleware {
		out, ok := mw.Before(ctx, current)
		if !ok {
			b.logger.Debug("event_aborted_by_middleware", "event_type", eventType)
			return
		}
		current = out
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0
	for _, s := range subs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					b.logger.Warn("event_subscriber_panicked", "event_type", eventType, "panic", r)
				}
			}()
			h(ctx, current)
		}(s.handler)
	}
	wg.Wait()

	for i := len(middleware) - 1; i >= 0; i-- {
		middleware[i].After(ctx, current, failures)
	}
}

// HasSubscribers reports whether any handler is subscribed to
// eventType, letting a publisher skip building an event payload it
// knows nobody will receive.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType]) > 0
}

// Clear removes every subscriber and middleware. Used by tests and by
// DestroyContext.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]subscription)
	b.middleware = nil
}
