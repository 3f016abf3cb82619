package planreview

import "time"

// Workflow-level status values carried inside the shared state. These are
// step-progress markers, distinct from the workflow row status.
const (
	statusPlanCreated          = "plan_created"
	statusReadyForReview       = "ready_for_review"
	statusEditingReviewPrompt  = "editing_reviewer_prompt"
	statusReviewsCollected     = "reviews_collected"
	statusRevisionNeeded       = "revision_needed"
	statusEditingPlannerPrompt = "editing_planner_prompt"
	statusCompleted            = "completed"
	statusCancelled            = "cancelled"
)

// Message is one entry of the append-only conversation history.
type Message struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// ReviewFeedback is one reviewer's output from a review round.
type ReviewFeedback struct {
	AgentName       string    `json:"agent_name"`
	AgentType       string    `json:"agent_type"`
	AgentIdentifier string    `json:"agent_identifier"`
	Feedback        string    `json:"feedback"`
	Timestamp       time.Time `json:"timestamp"`
}

// State is the typed shared state of the plan-review graph. Node updates
// are merged by Reduce; see the per-field rules there.
type State struct {
	WorkflowID string `json:"workflow_id"`

	Messages             []Message        `json:"messages"`
	CurrentPlan          string           `json:"current_plan"`
	ReviewFeedback       []ReviewFeedback `json:"review_feedback"`
	IterationCount       int              `json:"iteration_count"`
	CheckpointNumber     int              `json:"checkpoint_number"`
	Status               string           `json:"status"`
	UserEdits            string           `json:"user_edits"`
	NextStep             string           `json:"next_step"`
	ConsolidatedFeedback string           `json:"consolidated_feedback,omitempty"`

	// Prompt overrides set through the edit-prompt checkpoints.
	ReviewerPrompt string `json:"reviewer_prompt,omitempty"`
	PlannerPrompt  string `json:"planner_prompt,omitempty"`

	// Timeout-checkpoint bookkeeping. RetryAgent and TimeoutExtension
	// drive a retry re-entry; SkipTimedOutAgent continues a review round
	// with the partial set; TimedOutAgent names the agent the pending
	// timeout checkpoint is about; PartialReviews preserves the settled
	// successes of an interrupted round.
	RetryAgent           bool             `json:"retry_agent,omitempty"`
	TimeoutExtensionSecs int              `json:"timeout_extension_secs,omitempty"`
	SkipTimedOutAgent    string           `json:"skip_timed_out_agent,omitempty"`
	TimedOutAgent        string           `json:"timed_out_agent,omitempty"`
	PartialReviews       []ReviewFeedback `json:"partial_reviews,omitempty"`
}

// Reduce merges a node's partial update into the previous state.
//
// Rules:
//   - Messages: append-only.
//   - String scalars and the feedback list: last write wins, zero values
//     are ignored.
//   - IterationCount and CheckpointNumber: monotonic, only larger values
//     apply.
//   - Retry/skip flags and NextStep: copied verbatim, so a node's update
//     clears them unless it sets them again.
func Reduce(prev, delta State) State {
	out := prev

	out.Messages = append(out.Messages, delta.Messages...)

	if delta.WorkflowID != "" {
		out.WorkflowID = delta.WorkflowID
	}
	if delta.CurrentPlan != "" {
		out.CurrentPlan = delta.CurrentPlan
	}
	if delta.ReviewFeedback != nil {
		out.ReviewFeedback = delta.ReviewFeedback
	}
	if delta.IterationCount > out.IterationCount {
		out.IterationCount = delta.IterationCount
	}
	if delta.CheckpointNumber > out.CheckpointNumber {
		out.CheckpointNumber = delta.CheckpointNumber
	}
	if delta.Status != "" {
		out.Status = delta.Status
	}
	if delta.UserEdits != "" {
		out.UserEdits = delta.UserEdits
	}
	if delta.ConsolidatedFeedback != "" {
		out.ConsolidatedFeedback = delta.ConsolidatedFeedback
	}
	if delta.ReviewerPrompt != "" {
		out.ReviewerPrompt = delta.ReviewerPrompt
	}
	if delta.PlannerPrompt != "" {
		out.PlannerPrompt = delta.PlannerPrompt
	}
	if delta.PartialReviews != nil {
		out.PartialReviews = delta.PartialReviews
	}

	out.NextStep = delta.NextStep
	out.RetryAgent = delta.RetryAgent
	out.TimeoutExtensionSecs = delta.TimeoutExtensionSecs
	out.SkipTimedOutAgent = delta.SkipTimedOutAgent
	out.TimedOutAgent = delta.TimedOutAgent

	return out
}

// Cancelled reports whether the run ended through a user cancellation.
func (s State) Cancelled() bool {
	return s.Status == statusCancelled
}

// Completed reports whether the run ended with an approved plan.
func (s State) Completed() bool {
	return s.Status == statusCompleted
}

// NewState builds the initial state for a workflow with the user's
// opening prompt.
func NewState(workflowID, initialPrompt string) State {
	return State{
		WorkflowID: workflowID,
		Messages: []Message{
			{Role: "user", Name: "user", Content: initialPrompt},
		},
	}
}
