package dispatch

import (
	"context"
	"sync"
)

// Scope groups the subscriptions of one consumer (a view, a feature, a
// session) so they can be released with a single call.
type Scope struct {
	d *Dispatcher

	mu       sync.Mutex
	handles  []*Handle
	cleanups []func()
	released bool
	stop     func() bool
}

// NewScope creates a scope on d. When ctx is non-nil the scope releases
// itself once ctx is done.
func NewScope(ctx context.Context, d *Dispatcher) *Scope {
	s := &Scope{d: d}
	if ctx != nil {
		s.stop = context.AfterFunc(ctx, s.Release)
	}
	return s
}

// Subscribe registers h on the underlying dispatcher and tracks the
// handle. Subscribing on a released scope returns an inactive handle.
func (s *Scope) Subscribe(event string, h Handler) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return &Handle{event: event, fn: h}
	}
	handle := s.d.Subscribe(event, h)
	s.handles = append(s.handles, handle)
	return handle
}

// OnRelease registers fn to run after the scope's handles are dropped.
// On an already released scope fn runs immediately.
func (s *Scope) OnRelease(fn func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Len returns the number of handles the scope still holds.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Released reports whether Release has run.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Release unsubscribes every handle registered through the scope. It is
// idempotent.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	handles := s.handles
	s.handles = nil
	cleanups := s.cleanups
	s.cleanups = nil
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, h := range handles {
		s.d.Unsubscribe(h)
	}
	for _, fn := range cleanups {
		fn()
	}
}
