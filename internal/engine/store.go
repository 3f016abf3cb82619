package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/deadmanoz/orchestra/internal/db/repositories"
)

// ErrNoState is returned when a thread has no persisted history.
var ErrNoState = errors.New("no state for thread")

// Snapshot is one persisted step of a thread's state history.
type Snapshot struct {
	ID         string            `json:"id"`
	Values     json.RawMessage   `json:"values"`
	Next       []string          `json:"next"`
	Interrupts []json.RawMessage `json:"interrupts"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Suspended reports whether the snapshot carries a pending interrupt.
func (s *Snapshot) Suspended() bool {
	return len(s.Interrupts) > 0
}

// StateStore persists thread-keyed state snapshots. Implementations must
// survive process restarts for non-terminal workflows.
type StateStore interface {
	Save(ctx context.Context, threadID string, snap *Snapshot) error
	Latest(ctx context.Context, threadID string) (*Snapshot, error)
	// History enumerates snapshots newest first.
	History(ctx context.Context, threadID string) ([]*Snapshot, error)
}

// SQLStateStore is the durable StateStore over the embedded database.
type SQLStateStore struct {
	repo *repositories.WorkflowStateRepo
}

func NewSQLStateStore(repo *repositories.WorkflowStateRepo) *SQLStateStore {
	return &SQLStateStore{repo: repo}
}

func (s *SQLStateStore) Save(ctx context.Context, threadID string, snap *Snapshot) error {
	return s.repo.Save(ctx, &repositories.StateSnapshot{
		SnapshotID: snap.ID,
		ThreadID:   threadID,
		State:      snap.Values,
		NextNodes:  snap.Next,
		Interrupts: snap.Interrupts,
	})
}

func (s *SQLStateStore) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	row, err := s.repo.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, repositories.ErrStateNotFound) {
			return nil, ErrNoState
		}
		return nil, err
	}
	return fromRepoSnapshot(row), nil
}

func (s *SQLStateStore) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	rows, err := s.repo.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	result := make([]*Snapshot, 0, len(rows))
	for _, row := range rows {
		result = append(result, fromRepoSnapshot(row))
	}
	return result, nil
}

func fromRepoSnapshot(row *repositories.StateSnapshot) *Snapshot {
	return &Snapshot{
		ID:         row.SnapshotID,
		Values:     row.State,
		Next:       row.NextNodes,
		Interrupts: row.Interrupts,
		CreatedAt:  row.CreatedAt,
	}
}

// MemStateStore is the in-memory StateStore used by tests.
type MemStateStore struct {
	mu      sync.Mutex
	threads map[string][]*Snapshot
}

func NewMemStateStore() *MemStateStore {
	return &MemStateStore{threads: make(map[string][]*Snapshot)}
}

func (s *MemStateStore) Save(ctx context.Context, threadID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snap
	copied.CreatedAt = time.Now().UTC()
	s.threads[threadID] = append(s.threads[threadID], &copied)
	return nil
}

func (s *MemStateStore) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.threads[threadID]
	if len(snaps) == 0 {
		return nil, ErrNoState
	}
	return snaps[len(snaps)-1], nil
}

func (s *MemStateStore) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.threads[threadID]
	result := make([]*Snapshot, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		result = append(result, snaps[i])
	}
	return result, nil
}
