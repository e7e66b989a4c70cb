// Package presence manages project room membership on the real-time
// connection and tracks which users are online.
package presence

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/transport"
)

// Emitter is the outbound side of the connection.
type Emitter interface {
	Emit(event string, payload any) error
}

// Coordinator joins and leaves project rooms. Membership is a plain set:
// rooms are not reference counted, so if two views join the same room,
// the first one to leave stops live delivery for both. Callers that share
// a room must coordinate their leaves.
type Coordinator struct {
	conn Emitter
	log  logrus.FieldLogger

	mu     sync.Mutex
	rooms  map[string]bool
	online map[string]string
}

// New creates a coordinator emitting through conn.
func New(conn Emitter, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		conn:   conn,
		log:    log.WithField("component", "presence"),
		rooms:  make(map[string]bool),
		online: make(map[string]string),
	}
}

// Bind subscribes to connection status and presence events. Rooms are
// re-joined every time the connection comes back.
func (c *Coordinator) Bind(sub dispatch.Subscriber) {
	dispatch.On(sub, transport.EventStatus, func(st transport.Status) error {
		switch st.State {
		case transport.StateConnected:
			c.rejoin()
		case transport.StateDisconnected, transport.StateError:
			c.mu.Lock()
			c.online = make(map[string]string)
			c.mu.Unlock()
		}
		return nil
	})
	dispatch.On(sub, model.EventUserOnline, func(p model.Presence) error {
		if p.UserID == "" {
			return nil
		}
		status := p.Status
		if status == "" {
			status = "online"
		}
		c.mu.Lock()
		c.online[p.UserID] = status
		c.mu.Unlock()
		return nil
	})
	dispatch.On(sub, model.EventUserOffline, func(p model.Presence) error {
		c.mu.Lock()
		delete(c.online, p.UserID)
		c.mu.Unlock()
		return nil
	})
}

// JoinRoom records the room and asks the server to join it. Failures are
// logged, never returned: live delivery is best effort and history comes
// from REST.
func (c *Coordinator) JoinRoom(projectID string) {
	if projectID == "" {
		return
	}
	c.mu.Lock()
	c.rooms[projectID] = true
	c.mu.Unlock()
	c.emit(model.EventProjectJoin, projectID)
}

// LeaveRoom forgets the room and asks the server to leave it. Safe to call
// for a room that was never joined.
func (c *Coordinator) LeaveRoom(projectID string) {
	if projectID == "" {
		return
	}
	c.mu.Lock()
	delete(c.rooms, projectID)
	c.mu.Unlock()
	c.emit(model.EventProjectLeave, projectID)
}

// Rooms returns the joined rooms, sorted.
func (c *Coordinator) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Joined reports whether projectID is in the membership set.
func (c *Coordinator) Joined(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[projectID]
}

// Reset forgets every room without emitting, as on logout.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.rooms = make(map[string]bool)
	c.online = make(map[string]string)
	c.mu.Unlock()
}

func (c *Coordinator) rejoin() {
	for _, id := range c.Rooms() {
		c.emit(model.EventProjectJoin, id)
	}
}

func (c *Coordinator) emit(event, projectID string) {
	if err := c.conn.Emit(event, model.RoomRef{ProjectID: projectID}); err != nil {
		c.log.WithError(err).
			WithField("event", event).
			WithField("room", projectID).
			Warn("room request not sent")
	}
}

// Online reports whether userID is online and their last status.
func (c *Coordinator) Online(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.online[userID]
	return status, ok
}

// OnlineUsers returns the ids of online users, sorted.
func (c *Coordinator) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UpdateStatus announces the current user's status (e.g. "away").
func (c *Coordinator) UpdateStatus(status string) error {
	return c.conn.Emit(model.EventUserStatusUpdate, model.Presence{Status: status})
}
