package repositories

import (
	"database/sql"

	"github.com/deadmanoz/orchestra/internal/db"
)

type Repositories struct {
	Workflows       *WorkflowRepo
	AgentExecutions *AgentExecutionRepo
	Checkpoints     *CheckpointRepo
	WorkflowStates  *WorkflowStateRepo
	Notifications   *NotificationLogRepo
	db              *db.DB
}

func New(database *db.DB) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Workflows:       NewWorkflowRepo(conn),
		AgentExecutions: NewAgentExecutionRepo(conn),
		Checkpoints:     NewCheckpointRepo(conn),
		WorkflowStates:  NewWorkflowStateRepo(conn),
		Notifications:   NewNotificationLogRepo(conn),
		db:              database,
	}
}

// BeginTx starts a database transaction
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}
