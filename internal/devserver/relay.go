package devserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/transport/redisrelay"
)

const relayPrefix = "teamboard"

// AttachRelay mirrors every pushed frame onto the Redis relay and serves
// client frames published on the outbound channels until ctx is done.
func (s *Server) AttachRelay(ctx context.Context, rc *redis.Client) error {
	sub := rc.PSubscribe(ctx, redisrelay.OutboundChannel(relayPrefix, "*"))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	s.mu.Lock()
	s.relay = rc
	s.mu.Unlock()

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID := relayUser(msg.Channel)
				var f model.Frame
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					s.log.WithError(err).Debug("ignoring malformed relay frame")
					continue
				}
				s.handleFrame(userID, f)
			}
		}
	}()
	return nil
}

func (s *Server) publishRelay(userID string, frame []byte) {
	s.mu.Lock()
	rc := s.relay
	s.mu.Unlock()
	if rc == nil {
		return
	}
	if err := rc.Publish(context.Background(), redisrelay.InboundChannel(relayPrefix, userID), frame).Err(); err != nil {
		s.log.WithError(err).Warn("publishing to relay")
	}
}

// relayUser extracts the user id from "teamboard:user:<id>:out".
func relayUser(channel string) string {
	id := strings.TrimPrefix(channel, relayPrefix+":user:")
	return strings.TrimSuffix(id, ":out")
}
