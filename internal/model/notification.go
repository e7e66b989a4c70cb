package model

import "time"

// Kind is the category of a notification. It drives the icon, color and
// routing target, and whether quick-reply is offered.
type Kind string

const (
	KindMessage          Kind = "message"
	KindMention          Kind = "mention"
	KindTaskAssigned     Kind = "task_assigned"
	KindTaskOverdue      Kind = "task_overdue"
	KindDeadlineReminder Kind = "deadline_reminder"
	KindTeamMention      Kind = "team_mention"
	KindSystem           Kind = "system"
)

// Kinds lists every known kind in display order.
var Kinds = []Kind{
	KindMessage,
	KindMention,
	KindTaskAssigned,
	KindTaskOverdue,
	KindDeadlineReminder,
	KindTeamMention,
	KindSystem,
}

// Normalize maps unknown kinds to KindSystem.
func (k Kind) Normalize() Kind {
	for _, known := range Kinds {
		if k == known {
			return k
		}
	}
	return KindSystem
}

// AllowsQuickReply reports whether a reply can be sent directly from the
// notification.
func (k Kind) AllowsQuickReply() bool {
	switch k {
	case KindMessage, KindMention, KindTeamMention:
		return true
	default:
		return false
	}
}

// Origin associates a notification with the entity that produced it.
// All fields are optional.
type Origin struct {
	ProjectID string `json:"projectId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Sender identifies the actor who triggered a notification.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Notification represents one real-time alert surfaced to the user.
type Notification struct {
	// ID is opaque and stable across transport re-delivery.
	ID string `json:"id"`

	Kind    Kind   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`

	// Read only ever moves from false to true.
	Read bool `json:"read"`

	// Pinned is user-toggled and independent of Read.
	Pinned bool `json:"pinned"`

	// SnoozedUntil hides the notification from default views while it is
	// in the future. Snoozing never touches Read.
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`

	// CreatedAt is immutable and used for ordering.
	CreatedAt time.Time `json:"createdAt"`

	Origin *Origin `json:"origin,omitempty"`
	Sender *Sender `json:"sender,omitempty"`
}

// IsSnoozed reports whether the notification is hidden at the given instant.
func (n Notification) IsSnoozed(now time.Time) bool {
	return n.SnoozedUntil != nil && n.SnoozedUntil.After(now)
}

// ProjectID returns the origin project id, or "" when there is none.
func (n Notification) ProjectID() string {
	if n.Origin == nil {
		return ""
	}
	return n.Origin.ProjectID
}

// Filter is a pure view descriptor. It never mutates the notification set.
type Filter struct {
	// Kind restricts the view to one kind; empty means all kinds.
	Kind       Kind `json:"type,omitempty"`
	UnreadOnly bool `json:"unreadOnly"`
}

// Matches reports whether n passes the filter. Snooze state is not
// considered here.
func (f Filter) Matches(n Notification) bool {
	if f.Kind != "" && n.Kind != f.Kind {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	return true
}

// Summary is the aggregate view used by the header badge and dashboards.
type Summary struct {
	Total        int          `json:"total"`
	Unread       int          `json:"unread"`
	ServerUnread int          `json:"serverUnread"`
	Today        int          `json:"today"`
	Snoozed      int          `json:"snoozed"`
	Pinned       int          `json:"pinned"`
	UnreadByKind map[Kind]int `json:"unreadByKind"`
}

// Stats is the server-side statistics record for the current user.
type Stats struct {
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
	Today  int            `json:"today"`
	ByType map[string]int `json:"byType"`
}

// LocalMark is the part of a notification's state that never leaves this
// device: its pin and its snooze.
type LocalMark struct {
	ID           string     `db:"id"`
	Pinned       bool       `db:"pinned"`
	SnoozedUntil *time.Time `db:"snoozed_until"`
}

// Apply copies the mark onto n.
func (m LocalMark) Apply(n *Notification) {
	n.Pinned = m.Pinned
	n.SnoozedUntil = m.SnoozedUntil
}
