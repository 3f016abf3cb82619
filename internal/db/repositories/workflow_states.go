package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrStateNotFound = errors.New("workflow state not found")

// StateSnapshot is one persisted step of a workflow's state history.
type StateSnapshot struct {
	SnapshotID string
	ThreadID   string
	State      json.RawMessage
	NextNodes  []string
	Interrupts []json.RawMessage
	CreatedAt  time.Time
}

// WorkflowStateRepo is the durable keyed store of serialized workflow
// states. Writes are serialized per thread id.
type WorkflowStateRepo struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewWorkflowStateRepo(db *sql.DB) *WorkflowStateRepo {
	return &WorkflowStateRepo{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *WorkflowStateRepo) threadLock(threadID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[threadID] = lock
	}
	return lock
}

// Save appends a new snapshot for the thread.
func (r *WorkflowStateRepo) Save(ctx context.Context, snapshot *StateSnapshot) error {
	lock := r.threadLock(snapshot.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	nextNodes, err := json.Marshal(snapshot.NextNodes)
	if err != nil {
		return err
	}
	interrupts, err := json.Marshal(snapshot.Interrupts)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_states (thread_id, snapshot_id, state, next_nodes, interrupts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.ThreadID, snapshot.SnapshotID, string(snapshot.State),
		string(nextNodes), string(interrupts), time.Now().UTC(),
	)
	return err
}

// Latest returns the most recent snapshot for the thread, or
// ErrStateNotFound when the thread has no history.
func (r *WorkflowStateRepo) Latest(ctx context.Context, threadID string) (*StateSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT snapshot_id, thread_id, state, next_nodes, interrupts, created_at
		FROM workflow_states WHERE thread_id = ? ORDER BY id DESC LIMIT 1`, threadID)
	return scanSnapshot(row)
}

// History enumerates snapshots newest first.
func (r *WorkflowStateRepo) History(ctx context.Context, threadID string) ([]*StateSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT snapshot_id, thread_id, state, next_nodes, interrupts, created_at
		FROM workflow_states WHERE thread_id = ? ORDER BY id DESC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*StateSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func scanSnapshot(row rowScanner) (*StateSnapshot, error) {
	var snap StateSnapshot
	var state, nextNodes, interrupts string

	err := row.Scan(&snap.SnapshotID, &snap.ThreadID, &state, &nextNodes,
		&interrupts, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	snap.State = json.RawMessage(state)
	if err := json.Unmarshal([]byte(nextNodes), &snap.NextNodes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(interrupts), &snap.Interrupts); err != nil {
		return nil, err
	}

	return &snap, nil
}
