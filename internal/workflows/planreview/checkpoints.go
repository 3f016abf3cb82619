package planreview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deadmanoz/orchestra/internal/engine"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

// Checkpoint step names.
const (
	stepPlanReady       = "plan_ready_for_review"
	stepReviewsReady    = "reviews_ready_for_consolidation"
	stepEditReviewer    = "edit_reviewer_prompt"
	stepEditPlanner     = "edit_planner_prompt"
	stepPlannerTimeout  = "planner_timeout"
	stepReviewerTimeout = "reviewer_timeout"
)

// checkpointID derives a stable uuid for a checkpoint. Determinism
// matters: the suspended node re-runs from the top on resume, and the
// re-created checkpoint must collapse onto the same row.
func checkpointID(workflowID string, number int, step string) string {
	key := fmt.Sprintf("orchestra:%s:%d:%s", workflowID, number, step)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// newPayload assembles the wire-facing checkpoint payload.
func newPayload(state State, number int, step, editable, instructions string, actions models.CheckpointActions, outputs []models.AgentOutput) *models.CheckpointPayload {
	return &models.CheckpointPayload{
		CheckpointID:     checkpointID(state.WorkflowID, number, step),
		CheckpointNumber: number,
		StepName:         step,
		WorkflowID:       state.WorkflowID,
		Iteration:        state.IterationCount,
		AgentOutputs:     outputs,
		Instructions:     instructions,
		Actions:          actions,
		EditableContent:  editable,
	}
}

// checkpoint records the pending row, suspends, and on resume records the
// resolution. Row writes are best-effort: a persistence hiccup must not
// fail the workflow, the audit trail is secondary to the run.
func (w *Workflow) checkpoint(ctx context.Context, nc *engine.NodeContext, payload *models.CheckpointPayload) (*models.CheckpointResolution, bool) {
	if err := w.checkpoints.RecordCreated(ctx, payload); err != nil {
		logging.Error("checkpoint %s: record create failed: %v", payload.CheckpointID, err)
	}

	raw, suspended := nc.Interrupt(payload)
	if suspended {
		return nil, true
	}

	res := decodeResolution(raw, payload.Actions.Primary)
	logging.Info("checkpoint %s resolved with action %q", payload.CheckpointID, res.Action)

	if err := w.checkpoints.RecordResolution(ctx, payload.CheckpointID, res); err != nil {
		logging.Error("checkpoint %s: record resolution failed: %v", payload.CheckpointID, err)
	}

	return res, false
}

// decodeResolution parses a resume payload, defaulting the action to the
// checkpoint's primary when absent.
func decodeResolution(raw json.RawMessage, defaultAction string) *models.CheckpointResolution {
	var res models.CheckpointResolution
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			logging.Warn("checkpoint resume payload unparseable, defaulting to %q: %v", defaultAction, err)
		}
	}
	if res.Action == "" {
		res.Action = defaultAction
	}
	return &res
}

// editedOrDefault returns the user's edit when present, else fallback.
func editedOrDefault(res *models.CheckpointResolution, fallback string) string {
	if res.EditedContent != nil && *res.EditedContent != "" {
		return *res.EditedContent
	}
	return fallback
}

func plannerOutput(state State, plan string) []models.AgentOutput {
	return []models.AgentOutput{{
		AgentName: "planning_agent",
		AgentType: "planning",
		Output:    plan,
		Timestamp: time.Now().UTC(),
	}}
}

func reviewerOutputs(feedback []ReviewFeedback) []models.AgentOutput {
	outputs := make([]models.AgentOutput, 0, len(feedback))
	for _, fb := range feedback {
		outputs = append(outputs, models.AgentOutput{
			AgentName: fb.AgentName,
			AgentType: "review",
			Output:    fb.Feedback,
			Timestamp: fb.Timestamp,
		})
	}
	return outputs
}
