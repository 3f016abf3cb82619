package planreview

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadmanoz/orchestra/internal/agent"
	"github.com/deadmanoz/orchestra/internal/config"
	"github.com/deadmanoz/orchestra/internal/db"
	"github.com/deadmanoz/orchestra/internal/db/repositories"
	"github.com/deadmanoz/orchestra/internal/engine"
	"github.com/deadmanoz/orchestra/pkg/models"
)

type fixture struct {
	wf       *Workflow
	repos    *repositories.Repositories
	registry *agent.Registry
	store    engine.StateStore
}

func setup(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	repos := repositories.New(database)

	cfg := &config.Config{
		UseMockAgents:    true,
		AgentTimeout:     time.Minute,
		PlanningTimeout:  time.Minute,
		ReviewTimeout:    time.Minute,
		SummaryTimeout:   time.Minute,
		WorkingDirectory: t.TempDir(),
	}
	registry, err := agent.NewRegistry(cfg)
	require.NoError(t, err)

	store := engine.NewSQLStateStore(repos.WorkflowStates)

	wf, err := New(registry, repos, store, cfg.WorkingDirectory)
	require.NoError(t, err)

	f := &fixture{wf: wf, repos: repos, registry: registry, store: store}
	f.quicken(t)
	return f
}

// quicken removes simulated mock latency.
func (f *fixture) quicken(t *testing.T) {
	t.Helper()
	f.planner(t).Latency = 0
	for _, ag := range f.registry.ReviewAgents("") {
		mock, ok := ag.(*agent.MockAgent)
		require.True(t, ok)
		mock.Latency = 0
	}
}

func (f *fixture) planner(t *testing.T) *agent.MockAgent {
	t.Helper()
	mock, ok := f.registry.Get(models.RolePlanning, plannerAgentName, "").(*agent.MockAgent)
	require.True(t, ok)
	return mock
}

func (f *fixture) reviewer(t *testing.T, i int) *agent.MockAgent {
	t.Helper()
	agents := f.registry.ReviewAgents("")
	mock, ok := agents[i].(*agent.MockAgent)
	require.True(t, ok)
	return mock
}

func createWorkflowRow(t *testing.T, repos *repositories.Repositories, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repos.Workflows.Create(context.Background(), &models.Workflow{
		ID: id, Name: "test", Type: models.WorkflowTypePlanReview,
		Status: models.WorkflowPending, CreatedAt: now, UpdatedAt: now,
	}))
}

func decodePayload(t *testing.T, raw json.RawMessage) *models.CheckpointPayload {
	t.Helper()
	var payload models.CheckpointPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	return &payload
}

func resolve(action string) *models.CheckpointResolution {
	return &models.CheckpointResolution{Action: action}
}

func resolveEdited(action, content string) *models.CheckpointResolution {
	return &models.CheckpointResolution{Action: action, EditedContent: &content}
}

func timeoutResponder() func(string) (string, error) {
	return func(string) (string, error) {
		return "", &agent.Error{Op: "send", Agent: "mock", Err: agent.ErrTimeout}
	}
}

func TestHappyPathNoRevision(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	f.planner(t).Respond = func(string) (string, error) {
		return "# Plan\n1. Build the todo list app.", nil
	}
	for i := 0; i < 3; i++ {
		f.reviewer(t, i).Respond = func(string) (string, error) {
			return "Looks good, approved.", nil
		}
	}

	// Runs until the plan checkpoint.
	result, err := f.wf.Start(ctx, "wf-1", "Plan a todo list app.")
	require.NoError(t, err)
	require.True(t, result.Suspended())

	planCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepPlanReady, planCP.StepName)
	assert.Equal(t, 1, planCP.CheckpointNumber)
	assert.Equal(t, "send_to_reviewers", planCP.Actions.Primary)
	assert.Contains(t, planCP.EditableContent, "# Plan")
	require.Len(t, planCP.AgentOutputs, 1)

	// Approve for review; reviewers run, then the review checkpoint.
	result, err = f.wf.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	reviewCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepReviewsReady, reviewCP.StepName)
	assert.Equal(t, 2, reviewCP.CheckpointNumber)
	assert.Len(t, reviewCP.AgentOutputs, 3)
	assert.Contains(t, reviewCP.EditableContent, "## REVIEW AGENT 1")
	assert.Contains(t, reviewCP.EditableContent, "USER CONSOLIDATION")

	// Approve the plan outright.
	result, err = f.wf.Resume(ctx, "wf-1", resolve("approve_plan"))
	require.NoError(t, err)
	assert.False(t, result.Suspended())
	assert.True(t, result.State.Completed())
	assert.Equal(t, 0, result.State.IterationCount)
	require.Len(t, result.State.ReviewFeedback, 3)

	// One plan checkpoint, one review checkpoint, both resolved.
	checkpoints, err := f.repos.Checkpoints.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	for _, cp := range checkpoints {
		assert.Equal(t, models.CheckpointApproved, cp.Status)
	}

	// Four executions (planner + 3 reviewers), none left running.
	execs, err := f.repos.AgentExecutions.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, execs, 4)
	running, err := f.repos.AgentExecutions.CountRunning(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 0, running)
}

func TestOneRevisionRound(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	var plannerPrompts []string
	f.planner(t).Respond = func(prompt string) (string, error) {
		plannerPrompts = append(plannerPrompts, prompt)
		return fmt.Sprintf("# Plan v%d", len(plannerPrompts)), nil
	}
	for i := 0; i < 3; i++ {
		f.reviewer(t, i).Respond = func(string) (string, error) {
			return "Looks good, approved.", nil
		}
	}

	result, err := f.wf.Start(ctx, "wf-1", "Plan a todo list app.")
	require.NoError(t, err)
	result, err = f.wf.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)

	// Ask for a revision with consolidated feedback.
	result, err = f.wf.Resume(ctx, "wf-1", resolveEdited("request_revision", "Please add security section."))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	// Second plan checkpoint for the revised plan.
	planCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepPlanReady, planCP.StepName)
	assert.Contains(t, planCP.EditableContent, "# Plan v2")

	// The revision prompt carried history and the user's feedback.
	require.Len(t, plannerPrompts, 2)
	assert.Contains(t, plannerPrompts[1], "conversation history")
	assert.Contains(t, plannerPrompts[1], "Please add security section.")

	result, err = f.wf.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)
	result, err = f.wf.Resume(ctx, "wf-1", resolve("approve_plan"))
	require.NoError(t, err)

	assert.True(t, result.State.Completed())
	assert.Equal(t, 1, result.State.IterationCount)
}

func TestReviewerTimeoutThenSkip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	f.reviewer(t, 0).Respond = func(string) (string, error) { return "Approved.", nil }
	f.reviewer(t, 1).Respond = timeoutResponder()
	f.reviewer(t, 2).Respond = func(string) (string, error) { return "Looks good.", nil }
	timedOutName := f.reviewer(t, 1).Config().Name

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)
	result, err = f.wf.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	// One timeout checkpoint naming the slow agent; the two successful
	// reviews were preserved for skip reuse.
	timeoutCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepReviewerTimeout, timeoutCP.StepName)
	assert.Equal(t, "retry_with_extension", timeoutCP.Actions.Primary)
	assert.Contains(t, timeoutCP.Actions.Secondary, "skip")
	assert.Equal(t, "timeout", timeoutCP.Context["kind"])
	assert.Equal(t, timedOutName, timeoutCP.Context["agent_name"])
	assert.Len(t, result.State.PartialReviews, 2)

	// Skip the timed-out reviewer; the round completes with two reviews.
	result, err = f.wf.Resume(ctx, "wf-1", resolve("skip"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	reviewCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepReviewsReady, reviewCP.StepName)
	assert.Len(t, reviewCP.AgentOutputs, 2)
	assert.Len(t, result.State.ReviewFeedback, 2)

	// The preserved reviews were not re-executed: one failed row for the
	// timeout, one completed row per successful reviewer, one planner.
	execs, err := f.repos.AgentExecutions.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, execs, 4)

	result, err = f.wf.Resume(ctx, "wf-1", resolve("approve_plan"))
	require.NoError(t, err)
	assert.True(t, result.State.Completed())
}

func TestReviewerTimeoutThenRetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	var attempts atomic.Int32
	f.reviewer(t, 0).Respond = func(string) (string, error) { return "Approved.", nil }
	f.reviewer(t, 1).Respond = func(string) (string, error) {
		if attempts.Add(1) == 1 {
			return "", &agent.Error{Op: "send", Agent: "mock", Err: agent.ErrTimeout}
		}
		return "Approved after retry.", nil
	}
	f.reviewer(t, 2).Respond = func(string) (string, error) { return "Approved.", nil }

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)
	result, err = f.wf.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	assert.Equal(t, stepReviewerTimeout, decodePayload(t, result.Interrupt).StepName)

	result, err = f.wf.Resume(ctx, "wf-1", resolve("retry_with_extension"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	reviewCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepReviewsReady, reviewCP.StepName)
	require.Len(t, result.State.ReviewFeedback, 3)
	assert.Equal(t, int32(2), attempts.Load())

	var retried string
	for _, fb := range result.State.ReviewFeedback {
		if strings.Contains(fb.Feedback, "after retry") {
			retried = fb.AgentName
		}
	}
	assert.NotEmpty(t, retried)
}

func TestPlannerTimeoutThenRetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	var attempts atomic.Int32
	f.planner(t).Respond = func(string) (string, error) {
		if attempts.Add(1) == 1 {
			return "", &agent.Error{Op: "send", Agent: "mock", Err: agent.ErrTimeout}
		}
		return "# Plan after retry", nil
	}
	for i := 0; i < 3; i++ {
		f.reviewer(t, i).Respond = func(string) (string, error) { return "Approved.", nil }
	}

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)
	require.True(t, result.Suspended())

	timeoutCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepPlannerTimeout, timeoutCP.StepName)
	// A solitary planner has no partial set to skip to.
	assert.NotContains(t, timeoutCP.Actions.Secondary, "skip")

	result, err = f.wf.Resume(ctx, "wf-1", resolve("retry_with_extension"))
	require.NoError(t, err)
	require.True(t, result.Suspended())

	planCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepPlanReady, planCP.StepName)
	assert.Contains(t, planCP.EditableContent, "after retry")

	// Strictly increasing checkpoint numbers across the timeout and the
	// plan checkpoint.
	assert.Greater(t, planCP.CheckpointNumber, timeoutCP.CheckpointNumber)

	// One failed and one completed planner execution.
	execs, err := f.repos.AgentExecutions.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, models.ExecutionFailed, execs[0].Status)
	assert.Equal(t, models.ExecutionCompleted, execs[1].Status)
}

func TestCancelAtPlanCheckpoint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)
	require.True(t, result.Suspended())

	result, err = f.wf.Resume(ctx, "wf-1", resolve("cancel"))
	require.NoError(t, err)
	assert.False(t, result.Suspended())
	assert.True(t, result.State.Cancelled())

	checkpoints, err := f.repos.Checkpoints.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, models.CheckpointRejected, checkpoints[0].Status)
}

func TestEditPromptPaths(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	var mu sync.Mutex
	var reviewerPrompts []string
	var plannerPrompts []string
	f.planner(t).Respond = func(prompt string) (string, error) {
		plannerPrompts = append(plannerPrompts, prompt)
		return "# Plan", nil
	}
	for i := 0; i < 3; i++ {
		f.reviewer(t, i).Respond = func(prompt string) (string, error) {
			mu.Lock()
			reviewerPrompts = append(reviewerPrompts, prompt)
			mu.Unlock()
			return "Approved.", nil
		}
	}

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)

	// Divert to the reviewer-prompt editor.
	result, err = f.wf.Resume(ctx, "wf-1", resolve("edit_and_continue"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	editCP := decodePayload(t, result.Interrupt)
	assert.Equal(t, stepEditReviewer, editCP.StepName)
	assert.Contains(t, editCP.EditableContent, "REVIEW AGENT")

	// Reviewers then run with the edited prompt verbatim.
	result, err = f.wf.Resume(ctx, "wf-1", resolveEdited("send_to_reviewers", "CUSTOM REVIEW PROMPT"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	assert.Equal(t, stepReviewsReady, decodePayload(t, result.Interrupt).StepName)
	require.Len(t, reviewerPrompts, 3)
	for _, p := range reviewerPrompts {
		assert.Equal(t, "CUSTOM REVIEW PROMPT", p)
	}

	// Divert to the planner-prompt editor; the primary action routes to
	// the planner and bumps the iteration.
	result, err = f.wf.Resume(ctx, "wf-1", resolve("edit_prompt_and_revise"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	assert.Equal(t, stepEditPlanner, decodePayload(t, result.Interrupt).StepName)

	result, err = f.wf.Resume(ctx, "wf-1", resolveEdited("send_to_planner_for_revision", "CUSTOM PLANNER PROMPT"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	assert.Equal(t, stepPlanReady, decodePayload(t, result.Interrupt).StepName)
	assert.Equal(t, 1, result.State.IterationCount)
	require.Len(t, plannerPrompts, 2)
	assert.Equal(t, "CUSTOM PLANNER PROMPT", plannerPrompts[1])
}

func TestCrashRecoveryResume(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	f.planner(t).Respond = func(string) (string, error) { return "# Plan", nil }
	for i := 0; i < 3; i++ {
		f.reviewer(t, i).Respond = func(string) (string, error) { return "Approved.", nil }
	}

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)
	require.True(t, result.Suspended())

	// A fresh Workflow over the same store and repositories stands in
	// for a restarted process.
	recovered, err := New(f.registry, f.repos, f.store, "")
	require.NoError(t, err)

	snap, err := recovered.Engine().LatestSnapshot(ctx, "wf-1")
	require.NoError(t, err)
	require.True(t, snap.Suspended())
	pending := decodePayload(t, snap.Interrupts[0])
	assert.Equal(t, stepPlanReady, pending.StepName)

	result, err = recovered.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)
	require.True(t, result.Suspended())
	assert.Equal(t, stepReviewsReady, decodePayload(t, result.Interrupt).StepName)

	// The planner was not replayed: one planner row, three reviewer rows.
	execs, err := f.repos.AgentExecutions.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	plannerRuns := 0
	for _, e := range execs {
		if e.AgentName == plannerAgentName {
			plannerRuns++
		}
	}
	assert.Equal(t, 1, plannerRuns)
	assert.Len(t, execs, 4)
}

func TestCheckpointRowsIdempotentAcrossReplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	result, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)
	require.True(t, result.Suspended())

	// The resume replays the checkpoint node from the top, re-creating
	// the same checkpoint id; the row must not duplicate.
	_, err = f.wf.Resume(ctx, "wf-1", resolve("send_to_reviewers"))
	require.NoError(t, err)

	checkpoints, err := f.repos.Checkpoints.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)

	seen := map[string]int{}
	for _, cp := range checkpoints {
		seen[cp.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "checkpoint %s duplicated", id)
	}
}

func TestUserEditsFlowToReviewers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createWorkflowRow(t, f.repos, "wf-1")

	var mu sync.Mutex
	var reviewerPrompts []string
	for i := 0; i < 3; i++ {
		f.reviewer(t, i).Respond = func(prompt string) (string, error) {
			mu.Lock()
			reviewerPrompts = append(reviewerPrompts, prompt)
			mu.Unlock()
			return "Approved.", nil
		}
	}

	_, err := f.wf.Start(ctx, "wf-1", "Plan something.")
	require.NoError(t, err)

	_, err = f.wf.Resume(ctx, "wf-1", resolveEdited("send_to_reviewers", "EDITED PLAN BODY"))
	require.NoError(t, err)

	require.Len(t, reviewerPrompts, 3)
	for _, p := range reviewerPrompts {
		assert.Contains(t, p, "EDITED PLAN BODY")
	}
}

func TestReducerRules(t *testing.T) {
	prev := State{
		Messages:         []Message{{Role: "user", Content: "hi"}},
		CurrentPlan:      "plan-1",
		CheckpointNumber: 2,
		IterationCount:   1,
		RetryAgent:       true,
	}

	merged := Reduce(prev, State{
		Messages:         []Message{{Role: "planner", Content: "plan"}},
		CheckpointNumber: 3,
	})

	assert.Len(t, merged.Messages, 2)
	assert.Equal(t, "plan-1", merged.CurrentPlan)
	assert.Equal(t, 3, merged.CheckpointNumber)
	assert.Equal(t, 1, merged.IterationCount)
	// Flags are verbatim: an update that does not set them clears them.
	assert.False(t, merged.RetryAgent)

	// Monotonic counters ignore stale smaller values.
	stale := Reduce(merged, State{CheckpointNumber: 1, IterationCount: 0})
	assert.Equal(t, 3, stale.CheckpointNumber)
	assert.Equal(t, 1, stale.IterationCount)
}
