package model

import (
	"encoding/json"
	"time"
)

// Inbound socket event names.
const (
	EventNotificationNew        = "notification:new"
	EventNotificationMarkedRead = "notification:marked_read"
	EventNotificationAllRead    = "notification:all_marked_read"
	EventNotificationDeleted    = "notification:deleted"
	EventProjectMessageReceived = "project:message_received"
	EventProjectMessageEdited   = "project:message_edited"
	EventProjectMessageDeleted  = "project:message_deleted"
	EventProjectMessageReaction = "project:message_reaction"
	EventUserOnline             = "user:online"
	EventUserOffline            = "user:offline"
	EventTaskCreated            = "task:created"
	EventTaskUpdated            = "task:updated"
	EventTaskDeleted            = "task:deleted"
	EventTaskStatusChanged      = "task:status_changed"
)

// Outbound socket event names.
const (
	EventProjectJoin          = "project:join"
	EventProjectLeave         = "project:leave"
	EventNotificationMarkRead = "notification:mark_read"
	EventUserStatusUpdate     = "user:status_update"
)

// Frame is the wire envelope exchanged over the real-time transport.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NotificationRef is the payload of events that reference one notification.
type NotificationRef struct {
	ID string `json:"id"`
}

// RoomRef is the payload of project join and leave requests.
type RoomRef struct {
	ProjectID string `json:"projectId"`
}

// ProjectMessage is a chat message event scoped to a project room.
type ProjectMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Content   string    `json:"content,omitempty"`
	Sender    *Sender   `json:"sender,omitempty"`
	Reaction  string    `json:"reaction,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// Event is the socket event that carried the message.
	Event string `json:"-"`
}

// Presence is the payload of user online and offline events.
type Presence struct {
	UserID string `json:"userId"`
	Status string `json:"status,omitempty"`
}

// TaskEvent is the payload of task lifecycle events.
type TaskEvent struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId,omitempty"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status,omitempty"`

	Event string `json:"-"`
}
