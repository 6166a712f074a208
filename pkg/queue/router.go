package queue

import (
	"context"
	"fmt"

	"github.com/evalforge/evalcore/pkg/provider"
)

// defaultProbeQueue is used when a model-id cannot be resolved to a
// provider, per spec.md §4.3.
const defaultProbeQueue = "probe_scenario"

// summarizeQueue is the single queue summarize jobs are routed to.
const summarizeQueue = "summarize_transcript"

// ProviderLookup resolves a model-id to its owning provider entry.
// pkg/provider.Registry satisfies this.
type ProviderLookup interface {
	Lookup(ctx context.Context, modelID string) (provider.Entry, error)
}

// Router computes the queue name for a (job-type, model) pair. It does not
// register workers; cmd/evalcore/main.go registers one per queue.
type Router struct {
	lookup ProviderLookup
}

// NewRouter constructs a Router backed by a provider lookup.
func NewRouter(lookup ProviderLookup) *Router {
	return &Router{lookup: lookup}
}

// QueueNameFor computes the destination queue for jobType given modelID.
// For JobTypeProbeScenario it returns "probe_<provider>"; on an unresolved
// model it falls back to defaultProbeQueue. For JobTypeSummarizeTranscript
// it always returns the single summarize queue. Other job types route to
// themselves (one queue per job type).
func (r *Router) QueueNameFor(ctx context.Context, jobType, modelID string) (string, error) {
	switch jobType {
	case JobTypeProbeScenario:
		if modelID == "" {
			return defaultProbeQueue, nil
		}
		entry, err := r.lookup.Lookup(ctx, modelID)
		if err != nil {
			return defaultProbeQueue, nil
		}
		return fmt.Sprintf("probe_%s", entry.ProviderName), nil
	case JobTypeSummarizeTranscript:
		return summarizeQueue, nil
	default:
		return jobType, nil
	}
}
