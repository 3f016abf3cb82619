// Package planreview implements the plan-review-iterate workflow: a
// planner agent drafts, reviewer agents critique in parallel, and a human
// steers between stages through checkpoints.
package planreview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/deadmanoz/orchestra/internal/agent"
	"github.com/deadmanoz/orchestra/internal/db/repositories"
	"github.com/deadmanoz/orchestra/internal/engine"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/internal/review"
	"github.com/deadmanoz/orchestra/pkg/models"
)

// Node names.
const (
	nodePlanner            = "planner"
	nodePlanCheckpoint     = "plan_checkpoint"
	nodeEditReviewerPrompt = "edit_reviewer_prompt_checkpoint"
	nodeReviewers          = "reviewers"
	nodeReviewCheckpoint   = "review_checkpoint"
	nodeEditPlannerPrompt  = "edit_planner_prompt_checkpoint"
)

const plannerAgentName = "claude_planner"

// defaultTimeoutExtension is added to the agent's deadline when the user
// chooses retry_with_extension at a timeout checkpoint.
const defaultTimeoutExtension = 300 * time.Second

// Workflow wires the plan-review graph to the agent registry and the
// persistence layer.
type Workflow struct {
	registry      *agent.Registry
	executions    *repositories.AgentExecutionRepo
	checkpoints   *repositories.CheckpointRepo
	eng           *engine.Engine[State]
	workspacePath string
}

func New(registry *agent.Registry, repos *repositories.Repositories, store engine.StateStore, workspacePath string) (*Workflow, error) {
	w := &Workflow{
		registry:      registry,
		executions:    repos.AgentExecutions,
		checkpoints:   repos.Checkpoints,
		workspacePath: workspacePath,
	}

	eng, err := engine.New(w.buildGraph(), store)
	if err != nil {
		return nil, err
	}
	w.eng = eng
	return w, nil
}

func (w *Workflow) buildGraph() *engine.Graph[State] {
	g := engine.NewGraph(Reduce)

	g.AddNode(nodePlanner, w.plannerNode)
	g.AddNode(nodePlanCheckpoint, w.planCheckpointNode)
	g.AddNode(nodeEditReviewerPrompt, w.editReviewerPromptNode)
	g.AddNode(nodeReviewers, w.reviewersNode)
	g.AddNode(nodeReviewCheckpoint, w.reviewCheckpointNode)
	g.AddNode(nodeEditPlannerPrompt, w.editPlannerPromptNode)

	g.SetEntryPoint(nodePlanner)

	g.AddConditionalEdges(nodePlanner, routeRetryOrDefault, map[string]string{
		"retry":   nodePlanner,
		"end":     engine.END,
		"default": nodePlanCheckpoint,
	})

	g.AddConditionalEdges(nodePlanCheckpoint, func(s State) string {
		switch s.NextStep {
		case "edit_reviewer_prompt", "end":
			return s.NextStep
		default:
			return "review_agents"
		}
	}, map[string]string{
		"edit_reviewer_prompt": nodeEditReviewerPrompt,
		"review_agents":        nodeReviewers,
		"end":                  engine.END,
	})

	g.AddConditionalEdges(nodeEditReviewerPrompt, routeEndOrDefault, map[string]string{
		"end":     engine.END,
		"default": nodeReviewers,
	})

	g.AddConditionalEdges(nodeReviewers, routeRetryOrDefault, map[string]string{
		"retry":   nodeReviewers,
		"end":     engine.END,
		"default": nodeReviewCheckpoint,
	})

	g.AddConditionalEdges(nodeReviewCheckpoint, func(s State) string {
		switch s.NextStep {
		case "edit_planner_prompt", "end":
			return s.NextStep
		default:
			return "planner"
		}
	}, map[string]string{
		"edit_planner_prompt": nodeEditPlannerPrompt,
		"planner":             nodePlanner,
		"end":                 engine.END,
	})

	g.AddConditionalEdges(nodeEditPlannerPrompt, routeEndOrDefault, map[string]string{
		"end":     engine.END,
		"default": nodePlanner,
	})

	return g
}

func routeRetryOrDefault(s State) string {
	switch s.NextStep {
	case "retry", "end":
		return s.NextStep
	default:
		return "default"
	}
}

func routeEndOrDefault(s State) string {
	if s.NextStep == "end" {
		return "end"
	}
	return "default"
}

// Start begins a fresh run, executing until the first suspension or a
// terminal state.
func (w *Workflow) Start(ctx context.Context, workflowID, initialPrompt string) (*engine.Result[State], error) {
	return w.eng.Invoke(ctx, workflowID, NewState(workflowID, initialPrompt))
}

// Resume continues a suspended run with the user's resolution.
func (w *Workflow) Resume(ctx context.Context, workflowID string, res *models.CheckpointResolution) (*engine.Result[State], error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return w.eng.Resume(ctx, workflowID, engine.Command{Resume: raw})
}

// Engine exposes the underlying engine for snapshot inspection.
func (w *Workflow) Engine() *engine.Engine[State] {
	return w.eng
}

// ---- planner ----

func (w *Workflow) plannerNode(ctx context.Context, nc *engine.NodeContext, state State) (State, error) {
	if raw, ok := nc.TakeResume(); ok {
		return w.resumeTimeout(ctx, raw, state, stepPlannerTimeout, false), nil
	}

	ag := w.registry.Get(models.RolePlanning, plannerAgentName, w.workspacePath)
	cfg := ag.Config()

	prompt := state.PlannerPrompt
	if prompt == "" {
		if state.IterationCount > 0 {
			prompt = planningHistoryPrompt(state.Messages, state.ReviewFeedback)
		} else {
			prompt = planningInitialPrompt(initialUserPrompt(state))
		}
	}

	logging.Info("[planner] starting iteration %d for workflow %s", state.IterationCount, state.WorkflowID)

	text, outcome := w.invokeAgent(ctx, state, ag, prompt)
	switch {
	case outcome.timedOut:
		return w.suspendTimeout(ctx, nc, state, stepPlannerTimeout, cfg, prompt, outcome.timeout, outcome.err, false, nil), nil
	case outcome.err != nil:
		return State{}, outcome.err
	}

	return State{
		CurrentPlan:      text,
		Status:           statusPlanCreated,
		Messages:         []Message{{Role: "planner", Name: cfg.Name, Content: text}},
		CheckpointNumber: state.CheckpointNumber + 1,
	}, nil
}

func initialUserPrompt(state State) string {
	for _, msg := range state.Messages {
		if msg.Role == "user" {
			return msg.Content
		}
	}
	return ""
}

// ---- reviewers ----

type reviewOutcome struct {
	feedback *ReviewFeedback
	timeout  *timeoutOutcome
	err      error
}

type timeoutOutcome struct {
	cfg     *models.AgentConfig
	prompt  string
	timeout time.Duration
	err     error
}

func (w *Workflow) reviewersNode(ctx context.Context, nc *engine.NodeContext, state State) (State, error) {
	if raw, ok := nc.TakeResume(); ok {
		return w.resumeTimeout(ctx, raw, state, stepReviewerTimeout, true), nil
	}

	agents := w.registry.ReviewAgents(w.workspacePath)
	plan := planUnderReview(state)

	partials := make(map[string]ReviewFeedback, len(state.PartialReviews))
	for _, fb := range state.PartialReviews {
		partials[fb.AgentIdentifier] = fb
	}

	logging.Info("[reviewers] executing %d parallel reviews for workflow %s", len(agents), state.WorkflowID)

	outcomes := make([]reviewOutcome, len(agents))
	var wg sync.WaitGroup

	for i, ag := range agents {
		identifier := fmt.Sprintf("REVIEW AGENT %d", i+1)

		if fb, ok := partials[identifier]; ok {
			fbCopy := fb
			outcomes[i] = reviewOutcome{feedback: &fbCopy}
			continue
		}
		if state.SkipTimedOutAgent != "" && ag.Config().Name == state.SkipTimedOutAgent {
			logging.Info("[reviewers] skipping timed-out agent %s", state.SkipTimedOutAgent)
			continue
		}

		prompt := state.ReviewerPrompt
		if prompt == "" {
			if state.IterationCount > 0 {
				prompt = reviewHistoryPrompt(state.Messages, plan, identifier)
			} else {
				prompt = reviewRequestPrompt(plan, identifier)
			}
		}

		wg.Add(1)
		go func(i int, ag agent.Agent, identifier, prompt string) {
			defer wg.Done()
			outcomes[i] = w.executeReviewer(ctx, state, ag, identifier, prompt)
		}(i, ag, identifier, prompt)
	}

	wg.Wait()

	var collected []ReviewFeedback
	var firstTimeout *timeoutOutcome
	var fatal error

	for _, o := range outcomes {
		switch {
		case o.feedback != nil:
			collected = append(collected, *o.feedback)
		case o.timeout != nil:
			if firstTimeout == nil {
				firstTimeout = o.timeout
			}
		case o.err != nil:
			if fatal == nil {
				fatal = o.err
			}
		}
	}

	if fatal != nil {
		return State{}, fatal
	}

	if firstTimeout != nil {
		return w.suspendTimeout(ctx, nc, state, stepReviewerTimeout,
			firstTimeout.cfg, firstTimeout.prompt, firstTimeout.timeout,
			firstTimeout.err, true, collected), nil
	}

	messages := make([]Message, 0, len(collected))
	for i, fb := range collected {
		messages = append(messages, Message{
			Role:    fmt.Sprintf("reviewer_%d", i+1),
			Name:    fb.AgentName,
			Content: fb.Feedback,
		})
	}

	return State{
		ReviewFeedback:   collected,
		Status:           statusReviewsCollected,
		Messages:         messages,
		CheckpointNumber: state.CheckpointNumber + 1,
		PartialReviews:   []ReviewFeedback{},
	}, nil
}

func planUnderReview(state State) string {
	if state.UserEdits != "" {
		return state.UserEdits
	}
	return state.CurrentPlan
}

func (w *Workflow) executeReviewer(ctx context.Context, state State, ag agent.Agent, identifier, prompt string) reviewOutcome {
	cfg := ag.Config()

	text, outcome := w.invokeAgent(ctx, state, ag, prompt)
	switch {
	case outcome.timedOut:
		return reviewOutcome{timeout: &timeoutOutcome{
			cfg:     cfg,
			prompt:  prompt,
			timeout: outcome.timeout,
			err:     outcome.err,
		}}
	case outcome.err != nil:
		return reviewOutcome{err: outcome.err}
	}

	if outcome.execID > 0 {
		if err := w.executions.SetApprovalStatus(ctx, outcome.execID, review.Analyze(text)); err != nil {
			logging.Warn("[%s] approval status update failed: %v", cfg.Name, err)
		}
	}

	return reviewOutcome{feedback: &ReviewFeedback{
		AgentName:       cfg.Name,
		AgentType:       cfg.AgentType,
		AgentIdentifier: identifier,
		Feedback:        text,
		Timestamp:       time.Now().UTC(),
	}}
}

// invokeResult reports one agent invocation with its closed execution row.
type invokeResult struct {
	execID   int64
	timedOut bool
	timeout  time.Duration
	err      error
}

// invokeAgent runs one agent call end to end: it opens an execution row,
// applies any granted timeout extension, and always closes the row before
// returning.
func (w *Workflow) invokeAgent(ctx context.Context, state State, ag agent.Agent, prompt string) (string, invokeResult) {
	cfg := ag.Config()

	timeout := cfg.Timeout
	if state.RetryAgent && state.TimeoutExtensionSecs > 0 {
		timeout += time.Duration(state.TimeoutExtensionSecs) * time.Second
	}

	execID, err := w.executions.Start(ctx, state.WorkflowID, cfg.Name, cfg.AgentType, prompt)
	if err != nil {
		return "", invokeResult{err: fmt.Errorf("record execution for %s: %w", cfg.Name, err)}
	}

	started := time.Now()
	text, err := ag.SendWithTimeout(ctx, prompt, timeout)
	elapsed := time.Since(started)

	if err != nil {
		if failErr := w.executions.Fail(ctx, execID, err.Error(), elapsed); failErr != nil {
			logging.Error("[%s] close failed execution row: %v", cfg.Name, failErr)
		}
		return "", invokeResult{
			execID:   execID,
			timedOut: agent.IsTimeout(err),
			timeout:  timeout,
			err:      err,
		}
	}

	if err := w.executions.Complete(ctx, execID, text, elapsed); err != nil {
		logging.Error("[%s] close completed execution row: %v", cfg.Name, err)
	}

	return text, invokeResult{execID: execID, timeout: timeout}
}

// ---- timeout checkpoints ----

// suspendTimeout records a timeout checkpoint and pauses the node. The
// returned update carries the settled partial reviews (if any) so a later
// skip can reuse them.
func (w *Workflow) suspendTimeout(ctx context.Context, nc *engine.NodeContext, state State, step string, cfg *models.AgentConfig, prompt string, timeout time.Duration, cause error, allowSkip bool, partials []ReviewFeedback) State {
	number := state.CheckpointNumber + 1

	secondary := []string{"cancel"}
	if allowSkip {
		secondary = []string{"skip", "cancel"}
	}

	choices := "Retry with a longer deadline or cancel the workflow."
	if allowSkip {
		choices = "Retry with a longer deadline, skip the agent, or cancel the workflow."
	}
	instructions := fmt.Sprintf("Agent %s timed out after %d seconds. %s",
		cfg.Name, int(timeout.Seconds()), choices)

	payload := newPayload(state, number, step, prompt, instructions,
		models.CheckpointActions{Primary: "retry_with_extension", Secondary: secondary}, nil)
	payload.Context = map[string]any{
		"kind":            "timeout",
		"agent_name":      cfg.Name,
		"agent_type":      cfg.AgentType,
		"timeout_seconds": int(timeout.Seconds()),
		"error":           cause.Error(),
		"prompt":          prompt,
	}

	if err := w.checkpoints.RecordCreated(ctx, payload); err != nil {
		logging.Error("timeout checkpoint %s: record create failed: %v", payload.CheckpointID, err)
	}

	nc.Interrupt(payload)

	return State{
		CheckpointNumber: number,
		TimedOutAgent:    cfg.Name,
		PartialReviews:   partials,
		// An earlier skip decision survives a second timeout in the
		// same round.
		SkipTimedOutAgent: state.SkipTimedOutAgent,
	}
}

// resumeTimeout handles the user's answer to a pending timeout checkpoint.
// Runs at the top of the suspended node so the original agent call is not
// replayed just to reach the interrupt again.
func (w *Workflow) resumeTimeout(ctx context.Context, raw json.RawMessage, state State, step string, allowSkip bool) State {
	res := decodeResolution(raw, "retry_with_extension")

	id := checkpointID(state.WorkflowID, state.CheckpointNumber, step)
	if err := w.checkpoints.RecordResolution(ctx, id, res); err != nil {
		logging.Error("timeout checkpoint %s: record resolution failed: %v", id, err)
	}

	switch res.Action {
	case "skip":
		if allowSkip {
			logging.Info("[timeout] user skipped agent %s", state.TimedOutAgent)
			return State{
				NextStep:          "retry",
				SkipTimedOutAgent: state.TimedOutAgent,
				Messages: []Message{{
					Role: "user", Name: "user",
					Content: fmt.Sprintf("[User skipped timed-out agent %s]", state.TimedOutAgent),
				}},
			}
		}
		// No partial set to continue with; treat as cancel.
		fallthrough
	case "cancel":
		return State{
			Status:   statusCancelled,
			NextStep: "end",
			Messages: []Message{{Role: "user", Name: "user", Content: "[User cancelled workflow]"}},
		}
	default: // retry_with_extension
		return State{
			NextStep:             "retry",
			RetryAgent:           true,
			SkipTimedOutAgent:    state.SkipTimedOutAgent,
			TimeoutExtensionSecs: int(defaultTimeoutExtension.Seconds()),
			Messages: []Message{{
				Role: "user", Name: "user",
				Content: fmt.Sprintf("[User retried agent %s with extended timeout]", state.TimedOutAgent),
			}},
		}
	}
}

// ---- checkpoint nodes ----

func (w *Workflow) planCheckpointNode(ctx context.Context, nc *engine.NodeContext, state State) (State, error) {
	payload := newPayload(state, state.CheckpointNumber, stepPlanReady,
		state.CurrentPlan,
		"The PLANNING AGENT has created a plan. Review and edit if needed before sending to REVIEW AGENTS.",
		models.CheckpointActions{
			Primary:   "send_to_reviewers",
			Secondary: []string{"edit_and_continue", "cancel"},
		},
		plannerOutput(state, state.CurrentPlan))

	res, suspended := w.checkpoint(ctx, nc, payload)
	if suspended {
		return State{}, nil
	}

	editedPlan := editedOrDefault(res, state.CurrentPlan)

	switch res.Action {
	case "edit_and_continue":
		return State{
			UserEdits: editedPlan,
			Status:    statusEditingReviewPrompt,
			NextStep:  "edit_reviewer_prompt",
			Messages:  []Message{{Role: "user", Name: "user", Content: "[User wants to edit full reviewer prompt]"}},
		}, nil
	case "cancel":
		return State{
			Status:   statusCancelled,
			NextStep: "end",
			Messages: []Message{{Role: "user", Name: "user", Content: "[User cancelled workflow]"}},
		}, nil
	default: // send_to_reviewers
		return State{
			UserEdits: editedPlan,
			Status:    statusReadyForReview,
			NextStep:  "review_agents",
			Messages:  []Message{{Role: "user", Name: "user", Content: "[User approved plan for review]"}},
		}, nil
	}
}

func (w *Workflow) reviewCheckpointNode(ctx context.Context, nc *engine.NodeContext, state State) (State, error) {
	consolidated := consolidateReviews(state.ReviewFeedback)

	payload := newPayload(state, state.CheckpointNumber, stepReviewsReady,
		consolidated,
		"Review feedback from all REVIEW AGENTS has been consolidated. Edit if needed, then choose whether to revise the plan or complete the workflow.",
		models.CheckpointActions{
			Primary:   "request_revision",
			Secondary: []string{"edit_prompt_and_revise", "approve_plan", "cancel"},
		},
		reviewerOutputs(state.ReviewFeedback))
	payload.Context = map[string]any{"current_plan": planUnderReview(state)}

	res, suspended := w.checkpoint(ctx, nc, payload)
	if suspended {
		return State{}, nil
	}

	editedFeedback := editedOrDefault(res, consolidated)

	switch res.Action {
	case "approve_plan":
		return State{
			Status:   statusCompleted,
			NextStep: "end",
			Messages: []Message{{Role: "user", Name: "user", Content: "[User approved plan without revision]"}},
		}, nil
	case "edit_prompt_and_revise":
		return State{
			ConsolidatedFeedback: editedFeedback,
			Status:               statusEditingPlannerPrompt,
			NextStep:             "edit_planner_prompt",
			Messages:             []Message{{Role: "user", Name: "user", Content: "[User wants to edit planner prompt before revision]"}},
		}, nil
	case "cancel":
		return State{
			Status:   statusCancelled,
			NextStep: "end",
			Messages: []Message{{Role: "user", Name: "user", Content: "[User cancelled workflow]"}},
		}, nil
	default: // request_revision
		return State{
			ConsolidatedFeedback: editedFeedback,
			Status:               statusRevisionNeeded,
			NextStep:             "planner",
			IterationCount:       state.IterationCount + 1,
			Messages: []Message{{
				Role: "user", Name: "user",
				Content: fmt.Sprintf("[User requested revision]\n%s", editedFeedback),
			}},
		}, nil
	}
}

func (w *Workflow) editReviewerPromptNode(ctx context.Context, nc *engine.NodeContext, state State) (State, error) {
	number := state.CheckpointNumber + 1

	defaultPrompt := state.ReviewerPrompt
	if defaultPrompt == "" {
		defaultPrompt = reviewRequestPrompt(planUnderReview(state), "REVIEW AGENT")
	}

	payload := newPayload(state, number, stepEditReviewer, defaultPrompt,
		"Edit the full prompt that will be sent to each REVIEW AGENT, then continue to the review round.",
		models.CheckpointActions{Primary: "send_to_reviewers", Secondary: []string{"cancel"}},
		nil)

	res, suspended := w.checkpoint(ctx, nc, payload)
	if suspended {
		return State{}, nil
	}

	if res.Action == "cancel" {
		return State{
			Status:           statusCancelled,
			NextStep:         "end",
			CheckpointNumber: number,
			Messages:         []Message{{Role: "user", Name: "user", Content: "[User cancelled workflow]"}},
		}, nil
	}

	return State{
		ReviewerPrompt:   editedOrDefault(res, defaultPrompt),
		Status:           statusReadyForReview,
		CheckpointNumber: number,
		Messages:         []Message{{Role: "user", Name: "user", Content: "[User edited reviewer prompt and approved for review]"}},
	}, nil
}

func (w *Workflow) editPlannerPromptNode(ctx context.Context, nc *engine.NodeContext, state State) (State, error) {
	number := state.CheckpointNumber + 1

	defaultPrompt := state.PlannerPrompt
	if defaultPrompt == "" {
		defaultPrompt = planningHistoryPrompt(state.Messages, state.ReviewFeedback)
	}

	payload := newPayload(state, number, stepEditPlanner, defaultPrompt,
		"Edit the full prompt that will be sent to the PLANNING AGENT for the revision, then continue.",
		models.CheckpointActions{Primary: "send_to_planner_for_revision", Secondary: []string{"cancel"}},
		nil)

	res, suspended := w.checkpoint(ctx, nc, payload)
	if suspended {
		return State{}, nil
	}

	if res.Action == "cancel" {
		return State{
			Status:           statusCancelled,
			NextStep:         "end",
			CheckpointNumber: number,
			Messages:         []Message{{Role: "user", Name: "user", Content: "[User cancelled workflow]"}},
		}, nil
	}

	return State{
		PlannerPrompt:    editedOrDefault(res, defaultPrompt),
		Status:           statusRevisionNeeded,
		IterationCount:   state.IterationCount + 1,
		CheckpointNumber: number,
		Messages:         []Message{{Role: "user", Name: "user", Content: "[User edited planner prompt and requested revision]"}},
	}, nil
}
