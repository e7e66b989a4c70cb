// Package transport owns the single authenticated real-time socket of a
// session. It reconnects with linear backoff after unexpected drops and
// republishes every inbound frame on a dispatch.Dispatcher.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
)

// Socket is one live bidirectional connection. Receive blocks until a
// frame arrives; a *FrameError means the frame was skipped and the socket
// is still usable, any other error ends the socket.
type Socket interface {
	Receive() (model.Frame, error)
	Send(model.Frame) error
	Close() error
}

// Dialer opens sockets. A dialer returns ErrUnauthenticated (possibly
// wrapped) when the server rejects the token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Socket, error)
}

// TokenSource provides the bearer token used for every dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token, or ErrUnauthenticated when it is empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrUnauthenticated
	}
	return string(t), nil
}

// Options tune the reconnect policy.
type Options struct {
	// BaseDelay is the backoff unit: attempt n waits n * BaseDelay.
	BaseDelay time.Duration

	// MaxAttempts caps automatic reconnects after a drop.
	MaxAttempts int

	Log logrus.FieldLogger

	// Wait blocks for d or until ctx is done. Tests replace it to observe
	// the backoff schedule without sleeping.
	Wait func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.Wait == nil {
		o.Wait = sleep
	}
	return o
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connection maintains at most one live socket. Inbound frames are
// published on the dispatcher under their event name with the raw JSON
// data as payload; status transitions are published under EventStatus.
type Connection struct {
	dialer Dialer
	tokens TokenSource
	events *dispatch.Dispatcher
	opts   Options
	log    logrus.FieldLogger

	mu     sync.Mutex
	status Status
	socket Socket

	// gen increments on every Connect and Disconnect. Goroutines started
	// for an older generation stop touching state once it moves on.
	gen    uint64
	cancel context.CancelFunc
}

// NewConnection creates a disconnected Connection.
func NewConnection(dialer Dialer, tokens TokenSource, events *dispatch.Dispatcher, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		dialer: dialer,
		tokens: tokens,
		events: events,
		opts:   opts,
		log:    opts.Log.WithField("component", "transport"),
		status: Status{State: StateDisconnected},
	}
}

// Status returns the current connection status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether a live socket is attached.
func (c *Connection) IsConnected() bool {
	return c.Status().State == StateConnected
}

// Connect opens the socket. Without a token it fails with
// ErrUnauthenticated and does not dial. Calling it while connected is a
// no-op. When the first dial fails the error is returned and the
// reconnect policy takes over in the background.
func (c *Connection) Connect(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	switch {
	case err != nil && !IsUnauthenticated(err):
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	case err != nil:
		return err
	case token == "":
		return ErrUnauthenticated
	}

	c.mu.Lock()
	if c.status.State == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.stopLocked()
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.setStatus(gen, Status{State: StateConnecting})

	sock, err := c.dialer.Dial(ctx, token)
	if err != nil {
		if IsUnauthenticated(err) {
			c.setStatus(gen, Status{State: StateError, Err: ErrUnauthenticated})
			return err
		}
		c.log.WithError(err).Warn("initial connect failed")
		go c.reconnect(loopCtx, gen)
		return &TransportError{Op: "dial", Err: err}
	}

	c.attach(loopCtx, gen, sock)
	return nil
}

// Disconnect closes the socket, cancels any pending reconnect and resets
// the attempt counter. It is idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.status.State == StateDisconnected && c.socket == nil && c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.stopLocked()
	c.mu.Unlock()

	c.setStatus(gen, Status{State: StateDisconnected})
}

// Emit sends one outbound event. It fails with a TransportError when no
// socket is attached.
func (c *Connection) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	c.mu.Lock()
	sock := c.socket
	c.mu.Unlock()

	if sock == nil {
		return &TransportError{Op: "emit " + event, Err: ErrNotConnected}
	}
	if err := sock.Send(model.Frame{Event: event, Data: data}); err != nil {
		return &TransportError{Op: "emit " + event, Err: err}
	}
	return nil
}

// stopLocked cancels the running generation's goroutines and closes its
// socket. c.mu must be held.
func (c *Connection) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.socket != nil {
		if err := c.socket.Close(); err != nil {
			c.log.WithError(err).Debug("closing socket")
		}
		c.socket = nil
	}
}

// setStatus records and publishes st if gen is still current.
func (c *Connection) setStatus(gen uint64, st Status) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.status = st
	c.mu.Unlock()

	c.log.WithField("status", st.String()).Debug("connection status changed")
	c.events.Publish(EventStatus, st)
	return true
}

// attach installs sock for gen and starts its read loop. A stale socket
// is closed instead.
func (c *Connection) attach(ctx context.Context, gen uint64, sock Socket) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sock.Close()
		return false
	}
	c.socket = sock
	c.mu.Unlock()

	if !c.setStatus(gen, Status{State: StateConnected}) {
		return false
	}
	go c.readLoop(ctx, gen, sock)
	return true
}

func (c *Connection) readLoop(ctx context.Context, gen uint64, sock Socket) {
	var err error
	for {
		var f model.Frame
		f, err = sock.Receive()
		if err != nil {
			var fe *FrameError
			if errors.As(err, &fe) {
				c.log.WithError(err).Debug("skipping frame")
				continue
			}
			break
		}
		if f.Event == "" {
			continue
		}
		c.events.Publish(f.Event, f.Data)
	}

	c.mu.Lock()
	if gen != c.gen || c.socket != sock {
		c.mu.Unlock()
		return
	}
	c.socket = nil
	c.mu.Unlock()
	_ = sock.Close()

	c.log.WithError(err).Warn("connection dropped")
	c.reconnect(ctx, gen)
}

// reconnect runs the backoff schedule for gen until a dial succeeds, the
// attempt budget is spent, or the generation is cancelled.
func (c *Connection) reconnect(ctx context.Context, gen uint64) {
	for attempt := 1; ; attempt++ {
		if attempt > c.opts.MaxAttempts {
			c.log.WithField("attempts", attempt-1).Error("giving up reconnecting")
			c.setStatus(gen, Status{State: StateError, Err: ErrMaxRetriesExceeded, Attempt: attempt - 1})
			return
		}
		if !c.setStatus(gen, Status{State: StateConnecting, Attempt: attempt}) {
			return
		}

		delay := time.Duration(attempt) * c.opts.BaseDelay
		if err := c.opts.Wait(ctx, delay); err != nil {
			return
		}

		token, err := c.tokens.Token(ctx)
		if err != nil || token == "" {
			c.setStatus(gen, Status{State: StateError, Err: ErrUnauthenticated, Attempt: attempt})
			return
		}

		sock, err := c.dialer.Dial(ctx, token)
		if err != nil {
			if IsUnauthenticated(err) {
				c.setStatus(gen, Status{State: StateError, Err: ErrUnauthenticated, Attempt: attempt})
				return
			}
			c.log.WithError(err).WithField("attempt", attempt).Warn("reconnect failed")
			continue
		}

		c.attach(ctx, gen, sock)
		return
	}
}
