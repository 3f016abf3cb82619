package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/deadmanoz/orchestra/internal/logging"
)

// defaultMaxSteps bounds a single Invoke/Resume walk. Revision loops are
// expected; an unbounded walk is a graph bug.
const defaultMaxSteps = 100

// Command carries the user's resume payload into a suspended workflow.
type Command struct {
	Resume json.RawMessage `json:"resume"`
}

// Result is the outcome of one engine walk: either the run reached END or
// it suspended on an interrupt.
type Result[S any] struct {
	State S
	// Interrupt is the pending suspension payload; nil when the run
	// reached END.
	Interrupt json.RawMessage
	// Node is the suspended node; empty when the run reached END.
	Node string
}

// Suspended reports whether the walk paused on an interrupt.
func (r *Result[S]) Suspended() bool {
	return r.Interrupt != nil
}

// Engine executes a graph against a durable state store. Node execution
// within one thread is strictly serialized; node bodies may fan out
// internally.
type Engine[S any] struct {
	graph    *Graph[S]
	store    StateStore
	maxSteps int
}

func New[S any](graph *Graph[S], store StateStore) (*Engine[S], error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &Engine[S]{graph: graph, store: store, maxSteps: defaultMaxSteps}, nil
}

// Invoke starts a fresh run for threadID at the entry node.
func (e *Engine[S]) Invoke(ctx context.Context, threadID string, initial S) (*Result[S], error) {
	return e.run(ctx, threadID, initial, e.graph.entry, nil)
}

// Resume re-enters a suspended run with the user's payload. The suspended
// node runs again from the top; its Interrupt call yields cmd.Resume.
func (e *Engine[S]) Resume(ctx context.Context, threadID string, cmd Command) (*Result[S], error) {
	snap, err := e.store.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !snap.Suspended() || len(snap.Next) == 0 {
		return nil, fmt.Errorf("thread %s has no pending interrupt", threadID)
	}

	var state S
	if err := json.Unmarshal(snap.Values, &state); err != nil {
		return nil, fmt.Errorf("decode state for thread %s: %w", threadID, err)
	}

	return e.run(ctx, threadID, state, snap.Next[0], cmd.Resume)
}

// LatestSnapshot exposes the newest persisted snapshot for a thread.
func (e *Engine[S]) LatestSnapshot(ctx context.Context, threadID string) (*Snapshot, error) {
	return e.store.Latest(ctx, threadID)
}

// History returns the thread's snapshots newest first.
func (e *Engine[S]) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	return e.store.History(ctx, threadID)
}

func (e *Engine[S]) run(ctx context.Context, threadID string, state S, startNode string, resume json.RawMessage) (*Result[S], error) {
	current := startNode

	for step := 0; step < e.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := e.graph.nodes[current]
		if !ok {
			return nil, fmt.Errorf("unknown node %q", current)
		}

		nc := &NodeContext{ThreadID: threadID, Node: current}
		if resume != nil {
			nc.resume = resume
			nc.hasResume = true
			resume = nil
		}

		logging.Debug("engine[%s]: entering node %s", threadID, current)
		delta, err := node(ctx, nc, state)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", current, err)
		}

		if nc.interrupted {
			payload, err := json.Marshal(nc.interruptPayload)
			if err != nil {
				return nil, fmt.Errorf("node %s: encode interrupt payload: %w", current, err)
			}
			// The suspending node's update is merged so settled partial
			// results survive the pause; the node itself re-runs from
			// the top on resume.
			state = e.graph.reducer(state, delta)
			if err := e.persist(ctx, threadID, state, []string{current}, []json.RawMessage{payload}); err != nil {
				return nil, err
			}
			logging.Debug("engine[%s]: node %s suspended", threadID, current)
			return &Result[S]{State: state, Interrupt: payload, Node: current}, nil
		}

		state = e.graph.reducer(state, delta)

		next, err := e.graph.next(current, state)
		if err != nil {
			return nil, err
		}

		var nextNodes []string
		if next != END {
			nextNodes = []string{next}
		}
		if err := e.persist(ctx, threadID, state, nextNodes, nil); err != nil {
			return nil, err
		}

		if next == END {
			logging.Debug("engine[%s]: reached END after node %s", threadID, current)
			return &Result[S]{State: state}, nil
		}
		current = next
	}

	return nil, fmt.Errorf("thread %s exceeded %d steps", threadID, e.maxSteps)
}

func (e *Engine[S]) persist(ctx context.Context, threadID string, state S, next []string, interrupts []json.RawMessage) error {
	values, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state for thread %s: %w", threadID, err)
	}

	return e.store.Save(ctx, threadID, &Snapshot{
		ID:         uuid.New().String(),
		Values:     values,
		Next:       next,
		Interrupts: interrupts,
	})
}
