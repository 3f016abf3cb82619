package models

import "time"

// CheckpointStatus is the resolution state of a user checkpoint.
type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "pending"
	CheckpointApproved CheckpointStatus = "approved"
	CheckpointEdited   CheckpointStatus = "edited"
	CheckpointRejected CheckpointStatus = "rejected"
)

// CheckpointActions lists the choices offered to the user at a checkpoint.
type CheckpointActions struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
}

// AgentOutput is one agent's contribution surfaced at a checkpoint.
type AgentOutput struct {
	AgentName string    `json:"agent_name"`
	AgentType string    `json:"agent_type"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckpointPayload is the wire-facing suspension payload handed to the
// caller when a workflow pauses for human input.
type CheckpointPayload struct {
	CheckpointID     string            `json:"checkpoint_id"`
	CheckpointNumber int               `json:"checkpoint_number"`
	StepName         string            `json:"step_name"`
	WorkflowID       string            `json:"workflow_id"`
	Iteration        int               `json:"iteration"`
	AgentOutputs     []AgentOutput     `json:"agent_outputs"`
	Instructions     string            `json:"instructions"`
	Actions          CheckpointActions `json:"actions"`
	EditableContent  string            `json:"editable_content"`
	Context          map[string]any    `json:"context,omitempty"`
}

// CheckpointResolution is the user's answer to a pending checkpoint.
type CheckpointResolution struct {
	Action        string  `json:"action"`
	EditedContent *string `json:"edited_content,omitempty"`
	UserNotes     *string `json:"user_notes,omitempty"`
}

// Checkpoint is the persisted audit row for a suspension.
type Checkpoint struct {
	ID                string
	WorkflowID        string
	CheckpointNumber  int
	StepName          string
	AgentOutputs      []AgentOutput
	UserEditedContent *string
	UserNotes         *string
	Status            CheckpointStatus
	CreatedAt         time.Time
	ResolvedAt        *time.Time
}
