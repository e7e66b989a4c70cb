package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nhle/teamboard/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one open socket.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// hub tracks open sockets by user.
type hub struct {
	s *Server

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func newHub(s *Server) *hub {
	return &hub{s: s, clients: make(map[string]map[*client]struct{})}
}

func (h *hub) register(c *client) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return len(set) == 1
}

func (h *hub) unregister(c *client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	c.close()
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

func (h *hub) sendToUser(userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- frame:
		default:
			// Slow reader; drop rather than block the server.
		}
	}
}

// others returns every connected user except userID.
func (h *hub) others(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for id := range h.clients {
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		_ = c.conn.Close()
	}
}

// Online reports whether userID has at least one open socket.
func (s *Server) Online(userID string) bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return len(s.hub.clients[userID]) > 0
}

func (s *Server) serveSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{userID: userID(c), conn: conn, send: make(chan []byte, 64)}
	if s.hub.register(cl) {
		s.broadcastPresence(cl.userID, model.EventUserOnline, "online")
	}
	s.log.WithField("user", cl.userID).Debug("socket connected")

	go s.writePump(cl)
	s.readPump(cl)
	return nil
}

func (s *Server) readPump(cl *client) {
	defer func() {
		if s.hub.unregister(cl) {
			// Room membership lives with the sockets.
			s.mu.Lock()
			s.user(cl.userID).rooms = make(map[string]bool)
			s.mu.Unlock()
			s.broadcastPresence(cl.userID, model.EventUserOffline, "offline")
		}
		_ = cl.conn.Close()
		s.log.WithField("user", cl.userID).Debug("socket disconnected")
	}()
	cl.conn.SetReadLimit(1 << 20)
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// Ignore malformed input; keep the connection alive.
			continue
		}
		s.handleFrame(cl.userID, f)
	}
}

func (s *Server) writePump(cl *client) {
	defer func() { _ = cl.conn.Close() }()
	for msg := range cl.send {
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// handleFrame applies one client-to-server event, whichever transport
// carried it.
func (s *Server) handleFrame(userID string, f model.Frame) {
	log := s.log.WithField("user", userID).WithField("event", f.Event)

	switch f.Event {
	case model.EventProjectJoin, model.EventProjectLeave:
		var ref model.RoomRef
		if err := json.Unmarshal(f.Data, &ref); err != nil || ref.ProjectID == "" {
			log.Debug("ignoring room request without project id")
			return
		}
		s.mu.Lock()
		if f.Event == model.EventProjectJoin {
			s.user(userID).rooms[ref.ProjectID] = true
		} else {
			delete(s.user(userID).rooms, ref.ProjectID)
		}
		s.mu.Unlock()
	case model.EventNotificationMarkRead:
		var ref model.NotificationRef
		if err := json.Unmarshal(f.Data, &ref); err != nil {
			return
		}
		if s.setRead(userID, ref.ID) {
			s.Push(userID, model.EventNotificationMarkedRead, ref)
		}
	case model.EventUserStatusUpdate:
		var p model.Presence
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		s.broadcastPresence(userID, model.EventUserOnline, p.Status)
	default:
		log.Debug("ignoring unknown event")
	}
}

func (s *Server) broadcastPresence(userID, event, status string) {
	for _, other := range s.hub.others(userID) {
		s.Push(other, event, model.Presence{UserID: userID, Status: status})
	}
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.Frame{Event: event, Data: raw})
}
