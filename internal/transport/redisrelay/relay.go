// Package redisrelay carries socket frames over Redis pub/sub. Each user
// has an inbound channel the server publishes to and an outbound channel
// the client publishes to, keyed by the token's subject.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/teamboard/internal/credential"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/transport"
)

const defaultPrefix = "teamboard"

// DefaultHealthCheck is how long a subscription may stay silent before it
// is pinged. A ping left unanswered for as long again counts as a drop.
const DefaultHealthCheck = 15 * time.Second

// InboundChannel is the channel frames for userID are published on.
func InboundChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:user:%s:in", prefix, userID)
}

// OutboundChannel is the channel frames from userID are published on.
func OutboundChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:user:%s:out", prefix, userID)
}

// Dialer implements transport.Dialer on top of a Redis client.
type Dialer struct {
	Client *redis.Client

	// Prefix namespaces the channels. Defaults to "teamboard".
	Prefix string

	// HealthCheck overrides DefaultHealthCheck.
	HealthCheck time.Duration
}

// NewDialer connects to the Redis server at url (redis://...).
func NewDialer(url string) (*Dialer, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &Dialer{Client: redis.NewClient(opts)}, nil
}

func (d *Dialer) prefix() string {
	if d.Prefix == "" {
		return defaultPrefix
	}
	return d.Prefix
}

// Dial subscribes to the user's inbound channel. The token must be a JWT
// with a subject; anything else is ErrUnauthenticated.
func (d *Dialer) Dial(ctx context.Context, token string) (transport.Socket, error) {
	userID, err := credential.Subject(token)
	if err != nil {
		return nil, err
	}

	sub := d.Client.Subscribe(ctx, InboundChannel(d.prefix(), userID))
	// The first Receive returns the subscription confirmation, or the
	// connection error.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to relay: %w", err)
	}

	health := d.HealthCheck
	if health <= 0 {
		health = DefaultHealthCheck
	}
	return &socket{
		client: d.Client,
		sub:    sub,
		out:    OutboundChannel(d.prefix(), userID),
		health: health,
	}, nil
}

// Close releases the Redis client.
func (d *Dialer) Close() error {
	return d.Client.Close()
}

type socket struct {
	client *redis.Client
	sub    *redis.PubSub
	out    string
	health time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Receive reads from the subscription connection directly. The PubSub
// would otherwise reconnect on its own and hide an outage from the
// caller, so any read error here ends the socket.
func (s *socket) Receive() (model.Frame, error) {
	pinged := false
	for {
		msg, err := s.sub.ReceiveTimeout(context.Background(), s.health)
		if s.closed.Load() {
			return model.Frame{}, io.EOF
		}
		if err != nil {
			if !isTimeout(err) || pinged {
				return model.Frame{}, fmt.Errorf("relay subscription lost: %w", err)
			}
			if err := s.sub.Ping(context.Background()); err != nil {
				return model.Frame{}, fmt.Errorf("relay health check: %w", err)
			}
			pinged = true
			continue
		}
		pinged = false

		switch msg := msg.(type) {
		case *redis.Message:
			var f model.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				return model.Frame{}, &transport.FrameError{Err: err}
			}
			return f, nil
		case *redis.Subscription, *redis.Pong:
			// liveness only
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *socket) Send(f model.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.client.Publish(context.Background(), s.out, data).Err()
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.sub.Close()
	})
	return s.closeErr
}
