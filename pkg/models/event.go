package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing over the buses.
type EventType string

const (
	// EventUserMessage carries text typed by a user on some gateway.
	EventUserMessage EventType = "user_message"

	// EventUserApproval carries a yes/no answer to a permission request.
	EventUserApproval EventType = "user_approval"

	// EventTaskCreated fires when a task is added to the store.
	EventTaskCreated EventType = "task_created"

	// EventTaskUpdated fires when task fields change.
	EventTaskUpdated EventType = "task_updated"

	// EventTaskStatusChanged fires on every status transition.
	EventTaskStatusChanged EventType = "task_status_changed"

	// EventTaskCompleted fires when a task reaches done.
	EventTaskCompleted EventType = "task_completed"

	// EventTaskFailed fires when a task reaches failed.
	EventTaskFailed EventType = "task_failed"

	// EventTaskDeleted fires when a task is removed from the store.
	EventTaskDeleted EventType = "task_deleted"

	// EventPlanUpdated fires when the task file changes on disk.
	EventPlanUpdated EventType = "plan_updated"

	// EventToolExecutionStarted fires when the executor dispatches a call.
	EventToolExecutionStarted EventType = "tool_execution_started"

	// EventToolExecutionCompleted fires when a tool call succeeds.
	EventToolExecutionCompleted EventType = "tool_execution_completed"

	// EventToolExecutionFailed fires when a tool call errors, times out,
	// or panics.
	EventToolExecutionFailed EventType = "tool_execution_failed"

	// EventPermissionRequest fires when an agent suspends on sensitive
	// tool calls and a human decision is needed.
	EventPermissionRequest EventType = "permission_request"

	// EventHeartbeat fires on the scheduler's periodic liveness job.
	EventHeartbeat EventType = "heartbeat"

	// EventSystemStartup fires once after the runtime finishes booting.
	EventSystemStartup EventType = "system_startup"

	// EventSystemShutdown fires once before the runtime exits.
	EventSystemShutdown EventType = "system_shutdown"
)

// Event is the envelope published on the event and command buses. Payload
// keys are event-type specific; see the New*Event constructors for the
// shapes the runtime relies on.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh id and the current UTC time.
func NewEvent(eventType EventType, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessageEvent wraps inbound chat text from a gateway.
func NewUserMessageEvent(chatID, text, source string) *Event {
	ev := NewEvent(EventUserMessage, map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	ev.Source = source
	return ev
}

// NewUserApprovalEvent wraps a permission decision from a gateway.
func NewUserApprovalEvent(chatID string, approved bool, source string) *Event {
	ev := NewEvent(EventUserApproval, map[string]any{
		"chat_id":  chatID,
		"approved": approved,
	})
	ev.Source = source
	return ev
}

// ChatID returns payload["chat_id"] when present.
func (e *Event) ChatID() string {
	if e.Payload == nil {
		return ""
	}
	id, _ := e.Payload["chat_id"].(string)
	return id
}

// Text returns payload["text"] when present.
func (e *Event) Text() string {
	if e.Payload == nil {
		return ""
	}
	text, _ := e.Payload["text"].(string)
	return text
}

// Approved returns payload["approved"] when present.
func (e *Event) Approved() bool {
	if e.Payload == nil {
		return false
	}
	ok, _ := e.Payload["approved"].(bool)
	return ok
}
