package queue

import (
	"context"
	"fmt"
)

// Enqueuer is the narrow capability handlers receive instead of a direct
// dependency on Store/Router — the Run Controller owns enqueue, handlers
// only ever enqueue the summarize jobs a probe-phase transition unblocks
// (spec.md §9).
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType, modelID string, payload []byte, opts EnqueueOptions) (string, error)
}

// RoutedEnqueuer implements Enqueuer by resolving the destination queue
// through a Router before sending on a Store.
type RoutedEnqueuer struct {
	store  *Store
	router *Router
}

// NewRoutedEnqueuer constructs a RoutedEnqueuer.
func NewRoutedEnqueuer(store *Store, router *Router) *RoutedEnqueuer {
	return &RoutedEnqueuer{store: store, router: router}
}

// Enqueue routes jobType/modelID to a queue name and sends payload there.
func (e *RoutedEnqueuer) Enqueue(ctx context.Context, jobType, modelID string, payload []byte, opts EnqueueOptions) (string, error) {
	queueName, err := e.router.QueueNameFor(ctx, jobType, modelID)
	if err != nil {
		return "", fmt.Errorf("route %s job: %w", jobType, err)
	}
	id, err := e.store.Send(ctx, queueName, payload, opts)
	if err != nil {
		return "", err
	}
	return id, nil
}
