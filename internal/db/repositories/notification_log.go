package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/deadmanoz/orchestra/pkg/models"
)

// NotificationLogRepo appends an audit row per published workflow event.
type NotificationLogRepo struct {
	db *sql.DB
}

func NewNotificationLogRepo(db *sql.DB) *NotificationLogRepo {
	return &NotificationLogRepo{db: db}
}

func (r *NotificationLogRepo) Append(ctx context.Context, event models.Event) (string, error) {
	logID := uuid.New().String()

	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_log (log_id, workflow_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		logID, event.WorkflowID, string(event.Type), string(payload), time.Now().UTC(),
	)
	return logID, err
}

func (r *NotificationLogRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM notification_log WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event models.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
