package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/deadmanoz/orchestra/pkg/models"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// actionStatusMap fixes the checkpoint action to resolution status mapping.
// Unknown actions resolve as approved.
var actionStatusMap = map[string]models.CheckpointStatus{
	"send_to_reviewers":             models.CheckpointApproved,
	"send_to_planner_for_revision":  models.CheckpointApproved,
	"request_revision":              models.CheckpointApproved,
	"approve_plan":                  models.CheckpointApproved,
	"approve":                       models.CheckpointApproved,
	"retry_with_extension":          models.CheckpointApproved,
	"skip":                          models.CheckpointApproved,
	"edit_and_continue":             models.CheckpointEdited,
	"edit_prompt_and_revise":        models.CheckpointEdited,
	"edit_full_prompt":              models.CheckpointEdited,
	"cancel":                        models.CheckpointRejected,
}

// StatusForAction maps a resolution action to the stored checkpoint status.
func StatusForAction(action string) models.CheckpointStatus {
	if status, ok := actionStatusMap[action]; ok {
		return status
	}
	return models.CheckpointApproved
}

// CheckpointRepo persists checkpoint creation and resolution rows.
type CheckpointRepo struct {
	db *sql.DB
}

func NewCheckpointRepo(db *sql.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// RecordCreated inserts a pending checkpoint row. Idempotent on id: the
// engine may re-observe the same pending suspension and call this again.
func (r *CheckpointRepo) RecordCreated(ctx context.Context, payload *models.CheckpointPayload) error {
	outputs, err := json.Marshal(payload.AgentOutputs)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_checkpoints (id, workflow_id, checkpoint_number, step_name, agent_outputs, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		payload.CheckpointID, payload.WorkflowID, payload.CheckpointNumber,
		payload.StepName, string(outputs), string(models.CheckpointPending),
		time.Now().UTC(),
	)
	return err
}

// RecordResolution closes a checkpoint row with the status derived from
// the user's action.
func (r *CheckpointRepo) RecordResolution(ctx context.Context, id string, res *models.CheckpointResolution) error {
	status := StatusForAction(res.Action)

	edited := sql.NullString{}
	if res.EditedContent != nil {
		edited = sql.NullString{String: *res.EditedContent, Valid: true}
	}
	notes := sql.NullString{}
	if res.UserNotes != nil {
		notes = sql.NullString{String: *res.UserNotes, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE user_checkpoints
		SET user_edited_content = ?, user_notes = ?, status = ?, resolved_at = ?
		WHERE id = ?`,
		edited, notes, string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

func (r *CheckpointRepo) Get(ctx context.Context, id string) (*models.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, checkpoint_number, step_name, agent_outputs,
		       user_edited_content, user_notes, status, created_at, resolved_at
		FROM user_checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

func (r *CheckpointRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, checkpoint_number, step_name, agent_outputs,
		       user_edited_content, user_notes, status, created_at, resolved_at
		FROM user_checkpoints WHERE workflow_id = ? ORDER BY checkpoint_number`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var outputs string
	var edited, notes sql.NullString
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(&cp.ID, &cp.WorkflowID, &cp.CheckpointNumber, &cp.StepName,
		&outputs, &edited, &notes, &status, &cp.CreatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(outputs), &cp.AgentOutputs); err != nil {
		return nil, err
	}
	if edited.Valid {
		cp.UserEditedContent = &edited.String
	}
	if notes.Valid {
		cp.UserNotes = &notes.String
	}
	cp.Status = models.CheckpointStatus(status)
	if resolvedAt.Valid {
		cp.ResolvedAt = &resolvedAt.Time
	}

	return &cp, nil
}
