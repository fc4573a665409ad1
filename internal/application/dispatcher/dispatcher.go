package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/approval-workflow/internal/domain/event"
)

// Handler processes a committed workflow event
type Handler func(ctx context.Context, evt *event.Event) error

// Dispatcher fans committed workflow events out to subscribers
type Dispatcher interface {
	// Subscribe registers a named handler for one event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a named handler for every event type
	SubscribeAll(name string, handler Handler)

	// Dispatch runs every matching handler in registration order. A failing handler does not
	// stop the others; all failures are joined into the returned error.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs the matching handlers on their own goroutines
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close rejects further events and waits for running async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type subscription struct {
	name    string
	handler Handler
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]subscription
	wildcard []subscription
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]subscription),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], subscription{name: name, handler: handler})
	d.mu.Unlock()

	d.logInfo("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.mu.Lock()
	d.wildcard = append(d.wildcard, subscription{name: name, handler: handler})
	d.mu.Unlock()

	d.logInfo("Handler registered", "event_type", "*", "handler_name", name)
}

func (d *eventDispatcher) subscribers(t event.Type) []subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := make([]subscription, 0, len(d.handlers[t])+len(d.wildcard))
	subs = append(subs, d.handlers[t]...)
	return append(subs, d.wildcard...)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	subs := d.subscribers(evt.Type)
	d.logInfo("Dispatching event", "event_type", evt.Type, "event_id", evt.ID, "instance_id", evt.InstanceID, "handler_count", len(subs))

	var errs []error
	for _, s := range subs {
		if err := d.safeExecute(ctx, evt, s); err != nil {
			d.logError("Handler error", "event_type", evt.Type, "event_id", evt.ID, "handler_name", s.name, "error", err)
			errs = append(errs, fmt.Errorf("handler %s failed: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		d.logError("Cannot dispatch async event, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	for _, s := range d.subscribers(evt.Type) {
		d.wg.Add(1)
		go func(s subscription) {
			defer d.wg.Done()
			if err := d.safeExecute(ctx, evt, s); err != nil {
				d.logError("Async handler error", "event_type", evt.Type, "event_id", evt.ID, "handler_name", s.name, "error", err)
			}
		}(s)
	}
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}
	d.wg.Wait()
	d.logInfo("Dispatcher closed")
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, s subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}

func (d *eventDispatcher) logInfo(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) logError(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
