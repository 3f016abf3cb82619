package models

import "time"

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending            WorkflowStatus = "pending"
	WorkflowRunning            WorkflowStatus = "running"
	WorkflowAwaitingCheckpoint WorkflowStatus = "awaiting_checkpoint"
	WorkflowCompleted          WorkflowStatus = "completed"
	WorkflowFailed             WorkflowStatus = "failed"
	WorkflowCancelled          WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// WorkflowType identifies the graph a workflow runs.
type WorkflowType string

const (
	WorkflowTypePlanReview WorkflowType = "plan_review"
	WorkflowTypeCustom     WorkflowType = "custom"
)

// Workflow is the persisted workflow row.
type Workflow struct {
	ID            string
	Name          string
	Type          WorkflowType
	Status        WorkflowStatus
	WorkspacePath *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}
