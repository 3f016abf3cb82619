package models

import "time"

// EventType identifies a workflow notification.
type EventType string

const (
	EventCheckpointReady   EventType = "checkpoint_ready"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventStatusUpdate      EventType = "status_update"
)

// Event is a per-workflow notification fanned out to subscribers.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
