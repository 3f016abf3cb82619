package services

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/deadmanoz/orchestra/internal/agent"
	"github.com/deadmanoz/orchestra/internal/config"
	"github.com/deadmanoz/orchestra/internal/db/repositories"
	"github.com/deadmanoz/orchestra/internal/engine"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/internal/workflows/planreview"
	"github.com/deadmanoz/orchestra/pkg/models"
)

//go:embed schemas/checkpoint_resolution.json
var resolutionSchemaJSON string

// WorkflowDetail is the full answer to a Get: the row, the pending
// suspension (if any), and the execution trail.
type WorkflowDetail struct {
	Workflow          *models.Workflow          `json:"workflow"`
	PendingCheckpoint *models.CheckpointPayload `json:"pending_checkpoint,omitempty"`
	CurrentIteration  int                       `json:"current_iteration"`
	AgentExecutions   []*models.AgentExecution  `json:"agent_executions"`
}

// HistoryEntry is one state snapshot annotated with its step type.
type HistoryEntry struct {
	SnapshotID string          `json:"snapshot_id"`
	StepType   string          `json:"step_type"`
	Suspended  bool            `json:"suspended"`
	Values     json.RawMessage `json:"values"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Manager is the workflow API consumed by the transport layer: create,
// inspect, resume, and enumerate history. Execution happens in the
// background; calls return as soon as the state is durable.
type Manager struct {
	cfg      *config.Config
	repos    *repositories.Repositories
	registry *agent.Registry
	store    engine.StateStore
	status   *StatusManager
	notifier *Notifier

	resolutionSchema *gojsonschema.Schema

	rootCtx context.Context
	cancel  context.CancelFunc
}

func NewManager(cfg *config.Config, repos *repositories.Repositories) (*Manager, error) {
	registry, err := agent.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(resolutionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile resolution schema: %w", err)
	}

	notifier := NewNotifier(repos.Notifications)
	rootCtx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:              cfg,
		repos:            repos,
		registry:         registry,
		store:            engine.NewSQLStateStore(repos.WorkflowStates),
		status:           NewStatusManager(repos.Workflows, notifier),
		notifier:         notifier,
		resolutionSchema: schema,
		rootCtx:          rootCtx,
		cancel:           cancel,
	}, nil
}

// Notifier exposes the event fan-out for transport-layer subscribers.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// Close stops background execution and drops subscribers. In-flight agent
// subprocesses are killed through their call contexts.
func (m *Manager) Close() {
	m.cancel()
	m.registry.StopAll()
	m.notifier.Close()
}

// Create inserts a pending workflow and starts executing it in the
// background until its first suspension or a terminal state.
func (m *Manager) Create(ctx context.Context, name string, wfType models.WorkflowType, initialPrompt, workspacePath string) (*models.Workflow, error) {
	if wfType != models.WorkflowTypePlanReview {
		return nil, fmt.Errorf("unsupported workflow type %q", wfType)
	}

	if workspacePath == "" {
		workspacePath = m.cfg.WorkingDirectory
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:            ulid.Make().String(),
		Name:          name,
		Type:          wfType,
		Status:        models.WorkflowPending,
		WorkspacePath: &workspacePath,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.repos.Workflows.Create(ctx, wf); err != nil {
		return nil, err
	}
	m.status.Register(wf.ID, models.WorkflowPending)

	go m.execute(wf.ID, workspacePath, func(ctx context.Context, w *planreview.Workflow) (*engine.Result[planreview.State], error) {
		return w.Start(ctx, wf.ID, initialPrompt)
	})

	return wf, nil
}

// Resume answers a pending checkpoint. It validates the resolution,
// records it, and continues execution in the background.
func (m *Manager) Resume(ctx context.Context, workflowID string, resolution *models.CheckpointResolution) error {
	wf, err := m.repos.Workflows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repositories.ErrWorkflowNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return err
	}

	if err := m.validateResolution(resolution); err != nil {
		return err
	}

	// Resuming a terminal workflow is an invalid transition, full stop.
	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wf.Status, models.WorkflowRunning)
	}

	// Survive restarts: re-register from the durable row when the active
	// table lost the workflow.
	m.status.Register(workflowID, wf.Status)

	snap, err := m.store.Latest(ctx, workflowID)
	if err != nil {
		if errors.Is(err, engine.ErrNoState) {
			return fmt.Errorf("%w: %s", ErrCheckpointConflict, workflowID)
		}
		return err
	}
	if !snap.Suspended() {
		return fmt.Errorf("%w: %s", ErrCheckpointConflict, workflowID)
	}

	if err := m.status.MarkRunning(ctx, workflowID); err != nil {
		return err
	}

	workspace := m.cfg.WorkingDirectory
	if wf.WorkspacePath != nil {
		workspace = *wf.WorkspacePath
	}

	go m.execute(workflowID, workspace, func(ctx context.Context, w *planreview.Workflow) (*engine.Result[planreview.State], error) {
		return w.Resume(ctx, workflowID, resolution)
	})

	return nil
}

func (m *Manager) validateResolution(resolution *models.CheckpointResolution) error {
	doc, err := json.Marshal(resolution)
	if err != nil {
		return err
	}
	result, err := m.resolutionSchema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("invalid checkpoint resolution: %v", result.Errors())
	}
	return nil
}

// execute drives one background walk of a workflow and folds the outcome
// into the status machine.
func (m *Manager) execute(workflowID, workspacePath string, walk func(context.Context, *planreview.Workflow) (*engine.Result[planreview.State], error)) {
	ctx := m.rootCtx

	w, err := planreview.New(m.registry, m.repos, m.store, workspacePath)
	if err != nil {
		m.fail(ctx, workflowID, err)
		return
	}

	if status, ok := m.status.Status(workflowID); !ok || status == models.WorkflowPending {
		if err := m.status.MarkRunning(ctx, workflowID); err != nil {
			m.fail(ctx, workflowID, err)
			return
		}
	}

	result, err := walk(ctx, w)
	if err != nil {
		m.fail(ctx, workflowID, err)
		return
	}

	if result.Suspended() {
		if err := m.status.MarkAwaitingCheckpoint(ctx, workflowID, result.Interrupt); err != nil {
			logging.Error("workflow %s: awaiting-checkpoint transition failed: %v", workflowID, err)
		}
		return
	}

	if result.State.Cancelled() {
		if err := m.status.MarkCancelled(ctx, workflowID); err != nil {
			logging.Error("workflow %s: cancelled transition failed: %v", workflowID, err)
		}
		return
	}

	if err := m.status.MarkCompleted(ctx, workflowID); err != nil {
		logging.Error("workflow %s: completed transition failed: %v", workflowID, err)
	}
}

func (m *Manager) fail(ctx context.Context, workflowID string, cause error) {
	logging.Error("workflow %s failed: %v", workflowID, cause)
	if err := m.status.MarkFailed(ctx, workflowID, cause); err != nil {
		logging.Error("workflow %s: failed transition not recorded: %v", workflowID, err)
	}
}

// Get returns the workflow row, the pending checkpoint payload when one
// exists (surviving restarts via the durable state store), the current
// iteration, and the execution trail.
func (m *Manager) Get(ctx context.Context, workflowID string) (*WorkflowDetail, error) {
	wf, err := m.repos.Workflows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repositories.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, err
	}

	detail := &WorkflowDetail{Workflow: wf}

	executions, err := m.repos.AgentExecutions.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	detail.AgentExecutions = executions

	snap, err := m.store.Latest(ctx, workflowID)
	if err != nil {
		if errors.Is(err, engine.ErrNoState) {
			return detail, nil
		}
		return nil, err
	}

	var state planreview.State
	if err := json.Unmarshal(snap.Values, &state); err == nil {
		detail.CurrentIteration = state.IterationCount
	}

	// A stale suspension snapshot lingers while a resumed walk is still
	// running; the pending checkpoint only exists while the workflow
	// actually awaits one.
	if snap.Suspended() && wf.Status == models.WorkflowAwaitingCheckpoint {
		var payload models.CheckpointPayload
		if err := json.Unmarshal(snap.Interrupts[0], &payload); err == nil {
			detail.PendingCheckpoint = &payload
		}
	}

	return detail, nil
}

// History returns the workflow's state snapshots in chronological order,
// each annotated with the step type its shape implies.
func (m *Manager) History(ctx context.Context, workflowID string) ([]HistoryEntry, error) {
	snaps, err := m.store.History(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	// Store order is newest first; callers get chronological.
	entries := make([]HistoryEntry, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		snap := snaps[i]
		entries = append(entries, HistoryEntry{
			SnapshotID: snap.ID,
			StepType:   stepTypeOf(snap.Values),
			Suspended:  snap.Suspended(),
			Values:     snap.Values,
			CreatedAt:  snap.CreatedAt,
		})
	}
	return entries, nil
}

// stepTypeOf derives the coarse step classification from the state shape.
func stepTypeOf(values json.RawMessage) string {
	var state planreview.State
	if err := json.Unmarshal(values, &state); err != nil {
		return "unknown"
	}
	switch {
	case len(state.ReviewFeedback) > 0:
		return "review"
	case state.CurrentPlan != "":
		return "plan"
	default:
		return "unknown"
	}
}
