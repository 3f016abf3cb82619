package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/deadmanoz/orchestra/pkg/models"
)

// AgentExecutionRepo manages per-invocation execution rows.
type AgentExecutionRepo struct {
	db *sql.DB
}

func NewAgentExecutionRepo(db *sql.DB) *AgentExecutionRepo {
	return &AgentExecutionRepo{db: db}
}

// Start inserts a running execution row and returns its id.
func (r *AgentExecutionRepo) Start(ctx context.Context, workflowID, agentName, agentType, inputContent string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_executions (workflow_id, agent_name, agent_type, input_content, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		workflowID, agentName, agentType, inputContent,
		string(models.ExecutionRunning), time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Complete closes a running row as completed with its output.
func (r *AgentExecutionRepo) Complete(ctx context.Context, id int64, output string, elapsed time.Duration) error {
	return r.finish(ctx, id, models.ExecutionCompleted, output, elapsed)
}

// Fail closes a running row as failed; reason lands in output_content.
func (r *AgentExecutionRepo) Fail(ctx context.Context, id int64, reason string, elapsed time.Duration) error {
	return r.finish(ctx, id, models.ExecutionFailed, reason, elapsed)
}

func (r *AgentExecutionRepo) finish(ctx context.Context, id int64, status models.ExecutionStatus, output string, elapsed time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_executions
		SET output_content = ?, status = ?, completed_at = ?, execution_time_ms = ?
		WHERE id = ?`,
		output, string(status), time.Now().UTC(), elapsed.Milliseconds(), id,
	)
	return err
}

// SetApprovalStatus records the advisory review classification.
func (r *AgentExecutionRepo) SetApprovalStatus(ctx context.Context, id int64, status models.ApprovalStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_executions SET approval_status = ? WHERE id = ?`,
		string(status), id,
	)
	return err
}

func (r *AgentExecutionRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.AgentExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, agent_name, agent_type, input_content, output_content,
		       status, started_at, completed_at, execution_time_ms, approval_status
		FROM agent_executions WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.AgentExecution
	for rows.Next() {
		var e models.AgentExecution
		var output sql.NullString
		var status string
		var completedAt sql.NullTime
		var elapsedMs sql.NullInt64
		var approval sql.NullString

		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.AgentName, &e.AgentType,
			&e.InputContent, &output, &status, &e.StartedAt, &completedAt,
			&elapsedMs, &approval); err != nil {
			return nil, err
		}

		e.Status = models.ExecutionStatus(status)
		if output.Valid {
			e.OutputContent = &output.String
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		if elapsedMs.Valid {
			e.ExecutionTimeMs = &elapsedMs.Int64
		}
		if approval.Valid {
			approvalStatus := models.ApprovalStatus(approval.String)
			e.ApprovalStatus = &approvalStatus
		}

		result = append(result, &e)
	}
	return result, rows.Err()
}

// CountRunning reports rows left open; used by tests to assert every
// invocation is closed when the call returns.
func (r *AgentExecutionRepo) CountRunning(ctx context.Context, workflowID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_executions WHERE workflow_id = ? AND status = ?`,
		workflowID, string(models.ExecutionRunning)).Scan(&count)
	return count, err
}
