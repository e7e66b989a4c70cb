package presence

import (
	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
)

var messageEvents = []string{
	model.EventProjectMessageReceived,
	model.EventProjectMessageEdited,
	model.EventProjectMessageDeleted,
	model.EventProjectMessageReaction,
}

// WatchRoom joins projectID and delivers its chat events to fn until the
// scope is released, at which point the room is left. fn only sees
// messages for projectID.
func (c *Coordinator) WatchRoom(scope *dispatch.Scope, projectID string, fn func(model.ProjectMessage)) {
	for _, event := range messageEvents {
		dispatch.On(scope, event, func(m model.ProjectMessage) error {
			if m.ProjectID != projectID {
				return nil
			}
			m.Event = event
			fn(m)
			return nil
		})
	}
	c.JoinRoom(projectID)
	scope.OnRelease(func() { c.LeaveRoom(projectID) })
}

// WatchTasks delivers task lifecycle events for projectID ("" for all).
func WatchTasks(sub dispatch.Subscriber, projectID string, fn func(model.TaskEvent)) {
	for _, event := range []string{
		model.EventTaskCreated,
		model.EventTaskUpdated,
		model.EventTaskDeleted,
		model.EventTaskStatusChanged,
	} {
		dispatch.On(sub, event, func(t model.TaskEvent) error {
			if projectID != "" && t.ProjectID != projectID {
				return nil
			}
			t.Event = event
			fn(t)
			return nil
		})
	}
}
