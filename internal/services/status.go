package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/deadmanoz/orchestra/internal/db/repositories"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCheckpointConflict = errors.New("workflow has no pending checkpoint")
)

// validTransitions is the workflow status machine. Transitions to failed
// are additionally always recorded, with a warning, so failures never get
// lost.
var validTransitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.WorkflowPending: {models.WorkflowRunning},
	models.WorkflowRunning: {
		models.WorkflowAwaitingCheckpoint,
		models.WorkflowCompleted,
		models.WorkflowFailed,
		models.WorkflowCancelled,
	},
	models.WorkflowAwaitingCheckpoint: {
		models.WorkflowRunning,
		models.WorkflowCompleted,
		models.WorkflowFailed,
		models.WorkflowCancelled,
	},
}

func transitionAllowed(from, to models.WorkflowStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// activeEntry is the in-memory record of a live workflow.
type activeEntry struct {
	status models.WorkflowStatus
	// lastResult holds the pending checkpoint payload while the workflow
	// awaits human input.
	lastResult json.RawMessage
	errMsg     string
}

// StatusManager owns workflow status transitions: each transition is a
// validated, atomic memory+database update followed by a notification.
type StatusManager struct {
	mu     sync.Mutex
	active map[string]*activeEntry

	workflows *repositories.WorkflowRepo
	notifier  *Notifier
}

func NewStatusManager(workflows *repositories.WorkflowRepo, notifier *Notifier) *StatusManager {
	return &StatusManager{
		active:    make(map[string]*activeEntry),
		workflows: workflows,
		notifier:  notifier,
	}
}

// Register tracks a freshly created (or reloaded) workflow in memory.
func (m *StatusManager) Register(workflowID string, status models.WorkflowStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[workflowID]; !ok {
		m.active[workflowID] = &activeEntry{status: status}
	}
}

// Status returns the in-memory status, when tracked.
func (m *StatusManager) Status(workflowID string) (models.WorkflowStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.active[workflowID]
	if !ok {
		return "", false
	}
	return entry.status, true
}

// PendingResult returns the checkpoint payload stored with the last
// awaiting_checkpoint transition.
func (m *StatusManager) PendingResult(workflowID string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.active[workflowID]
	if !ok || entry.lastResult == nil {
		return nil, false
	}
	return entry.lastResult, true
}

// MarkRunning moves the workflow to running.
func (m *StatusManager) MarkRunning(ctx context.Context, workflowID string) error {
	return m.transition(ctx, workflowID, models.WorkflowRunning, nil, "")
}

// MarkAwaitingCheckpoint stores the pending checkpoint payload and
// announces checkpoint_ready.
func (m *StatusManager) MarkAwaitingCheckpoint(ctx context.Context, workflowID string, payload json.RawMessage) error {
	return m.transition(ctx, workflowID, models.WorkflowAwaitingCheckpoint, payload, "")
}

// MarkCompleted finishes the workflow and drops it from the active table.
func (m *StatusManager) MarkCompleted(ctx context.Context, workflowID string) error {
	return m.transition(ctx, workflowID, models.WorkflowCompleted, nil, "")
}

// MarkCancelled finishes the workflow as cancelled.
func (m *StatusManager) MarkCancelled(ctx context.Context, workflowID string) error {
	return m.transition(ctx, workflowID, models.WorkflowCancelled, nil, "")
}

// MarkFailed records the failure. An invalid transition is warned about
// but never blocks recording a failure.
func (m *StatusManager) MarkFailed(ctx context.Context, workflowID string, cause error) error {
	return m.transition(ctx, workflowID, models.WorkflowFailed, nil, cause.Error())
}

func (m *StatusManager) transition(ctx context.Context, workflowID string, to models.WorkflowStatus, payload json.RawMessage, errMsg string) error {
	m.mu.Lock()

	entry, ok := m.active[workflowID]
	if !ok {
		m.mu.Unlock()
		if to != models.WorkflowFailed {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		// Failures are recorded even for untracked workflows.
		logging.Warn("workflow %s not active, forcing failed status", workflowID)
		if err := m.workflows.ForceStatus(ctx, workflowID, models.WorkflowFailed); err != nil {
			return err
		}
		m.publish(ctx, workflowID, to, errMsg)
		return nil
	}

	from := entry.status
	if !transitionAllowed(from, to) {
		if to != models.WorkflowFailed {
			m.mu.Unlock()
			logging.Error("invalid status transition for workflow %s: %s -> %s", workflowID, from, to)
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		logging.Warn("invalid transition %s -> failed for workflow %s, allowing due to error condition", from, workflowID)
	}

	prevResult, prevErrMsg := entry.lastResult, entry.errMsg
	entry.status = to
	entry.lastResult = payload
	entry.errMsg = errMsg

	var dbErr error
	if to == models.WorkflowFailed && !transitionAllowed(from, to) {
		dbErr = m.workflows.ForceStatus(ctx, workflowID, to)
	} else {
		dbErr = m.workflows.UpdateStatus(ctx, workflowID, from, to)
	}
	if dbErr != nil {
		// Memory rolls back so the in-memory view never drifts ahead of
		// a write that did not land.
		entry.status = from
		entry.lastResult = prevResult
		entry.errMsg = prevErrMsg
		m.mu.Unlock()
		return dbErr
	}

	if to.IsTerminal() {
		delete(m.active, workflowID)
	}
	m.mu.Unlock()

	m.publish(ctx, workflowID, to, errMsg)
	logging.Info("workflow %s: %s -> %s", workflowID, from, to)
	return nil
}

func (m *StatusManager) publish(ctx context.Context, workflowID string, to models.WorkflowStatus, errMsg string) {
	event := models.Event{
		WorkflowID: workflowID,
		Status:     string(to),
	}

	switch to {
	case models.WorkflowAwaitingCheckpoint:
		event.Type = models.EventCheckpointReady
	case models.WorkflowCompleted:
		event.Type = models.EventWorkflowCompleted
	case models.WorkflowFailed:
		event.Type = models.EventWorkflowFailed
		event.Error = errMsg
	default:
		event.Type = models.EventStatusUpdate
	}

	m.notifier.Publish(ctx, event)
}
