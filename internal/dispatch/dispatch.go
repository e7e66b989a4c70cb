// Package dispatch fans a single event out to any number of independent
// subscribers. A failing or panicking handler never prevents the other
// handlers for the same event from running.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler receives the payload published for an event. Returned errors
// are logged by the dispatcher and never reach the publisher.
type Handler func(payload any) error

// Subscriber is the registration side of a Dispatcher. Both *Dispatcher
// and *Scope implement it.
type Subscriber interface {
	Subscribe(event string, h Handler) *Handle
}

// Handle identifies one registration. It is returned by Subscribe and
// passed back to Unsubscribe.
type Handle struct {
	id     string
	event  string
	fn     Handler
	active atomic.Bool
}

// ID returns the unique identifier of the registration.
func (h *Handle) ID() string { return h.id }

// Event returns the event name the handle is registered for.
func (h *Handle) Event() string { return h.event }

// Active reports whether the handle still receives events.
func (h *Handle) Active() bool { return h.active.Load() }

// Dispatcher is a publish/subscribe registry keyed by event name.
// Handlers for one event run in registration order on the publishing
// goroutine. No ordering is guaranteed across event names.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*Handle
	log      logrus.FieldLogger
}

// New creates an empty dispatcher. A nil logger falls back to the
// logrus standard logger.
func New(log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		handlers: make(map[string][]*Handle),
		log:      log,
	}
}

// Subscribe registers h for event. Multiple handlers per event are
// allowed; the same function registered twice is called twice.
func (d *Dispatcher) Subscribe(event string, h Handler) *Handle {
	handle := &Handle{
		id:    uuid.NewString(),
		event: event,
		fn:    h,
	}
	handle.active.Store(true)

	d.mu.Lock()
	d.handlers[event] = append(d.handlers[event], handle)
	d.mu.Unlock()

	return handle
}

// Unsubscribe removes exactly the given registration. Calling it again,
// or with nil, is a no-op.
func (d *Dispatcher) Unsubscribe(h *Handle) {
	if h == nil || !h.active.CompareAndSwap(true, false) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[h.event]
	for i, candidate := range list {
		if candidate != h {
			continue
		}
		next := make([]*Handle, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, h.event)
		} else {
			d.handlers[h.event] = next
		}
		return
	}
}

// Publish invokes every handler registered for event, in registration
// order. It returns the number of handlers that completed without error.
func (d *Dispatcher) Publish(event string, payload any) int {
	d.mu.RLock()
	list := d.handlers[event]
	d.mu.RUnlock()

	// list is never mutated in place, so it is safe to range without the
	// lock while handlers subscribe or unsubscribe.
	ok := 0
	for _, h := range list {
		if !h.active.Load() {
			continue
		}
		if err := d.invoke(h, payload); err != nil {
			d.log.WithError(err).
				WithField("event", event).
				WithField("handler", h.id).
				Error("event handler failed")
			continue
		}
		ok++
	}
	return ok
}

// HandlerCount returns the number of live handlers for event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// invoke runs one handler, converting a panic into an error.
func (d *Dispatcher) invoke(h *Handle, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.fn(payload)
}

// On registers a typed handler. Payloads that are already a T are passed
// through; json.RawMessage and []byte payloads are decoded into a T.
// Anything else is reported as a handler error.
func On[T any](s Subscriber, event string, fn func(T) error) *Handle {
	return s.Subscribe(event, func(payload any) error {
		v, err := Decode[T](payload)
		if err != nil {
			return fmt.Errorf("decoding %s payload: %w", event, err)
		}
		return fn(v)
	})
}

// Decode converts a published payload into a T.
func Decode[T any](payload any) (T, error) {
	var zero T
	switch p := payload.(type) {
	case T:
		return p, nil
	case json.RawMessage:
		var v T
		if len(p) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(p, &v); err != nil {
			return zero, err
		}
		return v, nil
	case []byte:
		var v T
		if err := json.Unmarshal(p, &v); err != nil {
			return zero, err
		}
		return v, nil
	case nil:
		return zero, nil
	default:
		return zero, fmt.Errorf("unexpected payload type %T", payload)
	}
}
