package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deadmanoz/orchestra/pkg/models"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowRepo manages workflow row persistence.
type WorkflowRepo struct {
	db *sql.DB
}

func NewWorkflowRepo(db *sql.DB) *WorkflowRepo {
	return &WorkflowRepo{db: db}
}

func (r *WorkflowRepo) Create(ctx context.Context, wf *models.Workflow) error {
	workspace := sql.NullString{}
	if wf.WorkspacePath != nil {
		workspace = sql.NullString{String: *wf.WorkspacePath, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, type, status, workspace_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, string(wf.Type), string(wf.Status), workspace,
		wf.CreatedAt.UTC(), wf.UpdatedAt.UTC(),
	)
	return err
}

func (r *WorkflowRepo) Get(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, status, workspace_path, created_at, updated_at, completed_at
		FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

func (r *WorkflowRepo) List(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, status, workspace_path, created_at, updated_at, completed_at
		FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

// UpdateStatus moves a workflow to status, guarded against concurrent
// writers: the update only applies when the stored status still matches
// fromStatus. Returns ErrWorkflowNotFound when the guard misses.
func (r *WorkflowRepo) UpdateStatus(ctx context.Context, id string, fromStatus, toStatus models.WorkflowStatus) error {
	now := time.Now().UTC()

	var res sql.Result
	var err error
	if toStatus == models.WorkflowCompleted {
		res, err = r.db.ExecContext(ctx, `
			UPDATE workflows SET status = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = ?`,
			string(toStatus), now, now, id, string(fromStatus))
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE workflows SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(toStatus), now, id, string(fromStatus))
	}
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// ForceStatus writes the status unconditionally. Used for transitions to
// failed, which are always recorded.
func (r *WorkflowRepo) ForceStatus(ctx context.Context, id string, toStatus models.WorkflowStatus) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
		string(toStatus), now, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var wf models.Workflow
	var wfType, status string
	var workspace sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&wf.ID, &wf.Name, &wfType, &status, &workspace,
		&wf.CreatedAt, &wf.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}

	wf.Type = models.WorkflowType(wfType)
	wf.Status = models.WorkflowStatus(status)
	if workspace.Valid {
		wf.WorkspacePath = &workspace.String
	}
	if completedAt.Valid {
		wf.CompletedAt = &completedAt.Time
	}

	return &wf, nil
}
