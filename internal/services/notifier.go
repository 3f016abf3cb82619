package services

import (
	"context"
	"sync"
	"time"

	"github.com/deadmanoz/orchestra/internal/db/repositories"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that
// stops draining is dropped at the next publish.
const subscriberBuffer = 16

// Notifier fans workflow events out to per-workflow subscribers. Delivery
// is best-effort and ordered per workflow; every published event is also
// appended to the notification audit log.
type Notifier struct {
	mu   sync.Mutex
	subs map[string][]chan models.Event

	audit *repositories.NotificationLogRepo
}

func NewNotifier(audit *repositories.NotificationLogRepo) *Notifier {
	return &Notifier{
		subs:  make(map[string][]chan models.Event),
		audit: audit,
	}
}

// Subscribe registers a listener for one workflow's events.
func (n *Notifier) Subscribe(workflowID string) <-chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)

	n.mu.Lock()
	n.subs[workflowID] = append(n.subs[workflowID], ch)
	n.mu.Unlock()

	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (n *Notifier) Unsubscribe(workflowID string, ch <-chan models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs := n.subs[workflowID]
	for i, sub := range subs {
		if sub == ch {
			n.subs[workflowID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(n.subs[workflowID]) == 0 {
		delete(n.subs, workflowID)
	}
}

// Publish delivers an event to the workflow's subscribers. A subscriber
// whose buffer is full is dropped; publication never blocks the workflow.
func (n *Notifier) Publish(ctx context.Context, event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if n.audit != nil {
		if _, err := n.audit.Append(ctx, event); err != nil {
			logging.Warn("notification audit append failed: %v", err)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	subs := n.subs[event.WorkflowID]
	alive := subs[:0]
	for _, sub := range subs {
		select {
		case sub <- event:
			alive = append(alive, sub)
		default:
			logging.Warn("dropping slow subscriber for workflow %s", event.WorkflowID)
			close(sub)
		}
	}
	if len(alive) == 0 {
		delete(n.subs, event.WorkflowID)
	} else {
		n.subs[event.WorkflowID] = alive
	}
}

// Close drops every subscriber.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, subs := range n.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(n.subs, id)
	}
}
