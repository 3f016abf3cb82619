package models

import "time"

// ExecutionStatus is the lifecycle state of one agent invocation.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ApprovalStatus is the advisory classification of a reviewer's output.
type ApprovalStatus string

const (
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalHasFeedback ApprovalStatus = "has_feedback"
	ApprovalUnclear     ApprovalStatus = "unclear"
)

// AgentExecution is one persisted agent invocation. Exactly one row exists
// per invocation, closed to completed or failed when the call returns.
type AgentExecution struct {
	ID              int64
	WorkflowID      string
	AgentName       string
	AgentType       string
	InputContent    string
	OutputContent   *string
	Status          ExecutionStatus
	StartedAt       time.Time
	CompletedAt     *time.Time
	ExecutionTimeMs *int64
	ApprovalStatus  *ApprovalStatus
}
