package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evalforge/evalcore/pkg/apperrors"
	"github.com/evalforge/evalcore/pkg/notify"
	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/evalforge/evalcore/pkg/store"
)

// priorityWeights maps the Run-level priority label to the queue's
// numeric priority (spec.md §6: LOW=10, NORMAL=5, HIGH=0).
var priorityWeights = map[string]int{
	"LOW":    queue.PriorityLow,
	"NORMAL": queue.PriorityNormal,
	"HIGH":   queue.PriorityHigh,
}

// StartRunInput is the caller-supplied shape for startRun.
type StartRunInput struct {
	DefinitionID     string
	ModelIDs         []string
	SamplePercentage int
	SampleSeed       *int64
	Priority         string
	CreatedBy        *string
}

// Controller implements startRun, pause/resume/cancel, and the recovery
// scheduler on top of the store and queue packages (spec.md §4.6).
type Controller struct {
	runs         *store.RunStore
	definitions  *store.DefinitionStore
	scenarios    *store.ScenarioStore
	transcripts  *store.TranscriptStore
	probeResults *store.ProbeResultStore
	queueStore   *queue.Store
	router       *queue.Router
	enqueuer     queue.Enqueuer
	registry     *provider.Registry
	notifier     notify.Publisher
}

// NewController constructs a Controller. notifier may be notify.NewNoop()
// when no Redis broadcast target is configured.
func NewController(
	runs *store.RunStore,
	definitions *store.DefinitionStore,
	scenarios *store.ScenarioStore,
	transcripts *store.TranscriptStore,
	probeResults *store.ProbeResultStore,
	queueStore *queue.Store,
	router *queue.Router,
	enqueuer queue.Enqueuer,
	registry *provider.Registry,
	notifier notify.Publisher,
) *Controller {
	return &Controller{
		runs: runs, definitions: definitions, scenarios: scenarios,
		transcripts: transcripts, probeResults: probeResults,
		queueStore: queueStore, router: router, enqueuer: enqueuer, registry: registry,
		notifier: notifier,
	}
}

// StartRun validates input, samples scenarios deterministically, persists
// the Run and its selections in one transaction, and fans out one probe
// job per (selected scenario, model) pair.
func (c *Controller) StartRun(ctx context.Context, input StartRunInput) (*store.Run, error) {
	if err := c.validate(ctx, input); err != nil {
		return nil, err
	}

	active, err := c.definitions.IsActive(ctx, input.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("resolve definition %s: %w", input.DefinitionID, err)
	}
	if !active {
		return nil, fmt.Errorf("definition %s: %w", input.DefinitionID, apperrors.ErrNotFound)
	}
	definition, err := c.definitions.Get(ctx, input.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", input.DefinitionID, err)
	}

	scenarios, err := c.scenarios.ListActiveByDefinition(ctx, input.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("list scenarios for definition %s: %w", input.DefinitionID, err)
	}
	if len(scenarios) == 0 {
		return nil, apperrors.NewValidationError("definitionId", "definition has no active scenarios")
	}

	scenarioIDs := make([]string, len(scenarios))
	for i, s := range scenarios {
		scenarioIDs[i] = s.ID
	}
	selected := SampleScenarios(scenarioIDs, input.SamplePercentage, input.SampleSeed)

	totalJobs := len(selected) * len(input.ModelIDs)
	costEstimate := c.estimateCost(ctx, input.ModelIDs, len(selected))

	runID := uuid.NewString()
	newRun := &store.Run{
		ID:           runID,
		DefinitionID: input.DefinitionID,
		Status:       store.RunStatusPending,
		Config: store.RunConfig{
			ModelIDs:           input.ModelIDs,
			SamplePercentage:   input.SamplePercentage,
			SampleSeed:         input.SampleSeed,
			Priority:           input.Priority,
			DefinitionSnapshot: definition.Snapshot(),
			CostEstimate:       costEstimate,
		},
		Progress:  store.Progress{Total: totalJobs},
		CreatedBy: input.CreatedBy,
	}
	if err := c.runs.Create(ctx, newRun, selected); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	for _, scenarioID := range selected {
		for _, modelID := range input.ModelIDs {
			if err := c.enqueueProbe(ctx, runID, scenarioID, modelID, input.Priority); err != nil {
				slog.Error("failed to enqueue probe job", "run_id", runID, "scenario_id", scenarioID, "model_id", modelID, "error", err)
			}
		}
	}

	return c.runs.Get(ctx, runID)
}

func (c *Controller) enqueueProbe(ctx context.Context, runID, scenarioID, modelID, priority string) error {
	payload, err := json.Marshal(queue.ProbeScenarioPayload{RunID: runID, ScenarioID: scenarioID, ModelID: modelID})
	if err != nil {
		return fmt.Errorf("marshal probe payload: %w", err)
	}
	_, err = c.enqueuer.Enqueue(ctx, queue.JobTypeProbeScenario, modelID, payload, queue.EnqueueOptions{
		Priority:   priorityWeights[priority],
		RetryLimit: 3,
	})
	return err
}

// estimateCost is a rough snapshot from the Provider Registry's
// documented per-1K costs; actual spend is only known once transcripts
// report their token counts.
func (c *Controller) estimateCost(ctx context.Context, modelIDs []string, scenarioCount int) float64 {
	const assumedTokensPerCallK = 1.5
	var total float64
	for _, modelID := range modelIDs {
		entry, err := c.registry.Lookup(ctx, modelID)
		if err != nil {
			continue
		}
		total += float64(scenarioCount) * assumedTokensPerCallK * (entry.InputCostPer1K + entry.OutputCostPer1K)
	}
	return total
}

func (c *Controller) validate(ctx context.Context, input StartRunInput) error {
	if len(input.ModelIDs) == 0 {
		return apperrors.NewValidationError("modelIds", "at least one model is required")
	}
	if input.SamplePercentage < 1 || input.SamplePercentage > 100 {
		return apperrors.NewValidationError("samplePercentage", "must be between 1 and 100")
	}
	if _, ok := priorityWeights[input.Priority]; !ok {
		return apperrors.NewValidationError("priority", "must be one of LOW, NORMAL, HIGH")
	}
	return nil
}

// Pause transitions a non-terminal Run to PAUSED.
func (c *Controller) Pause(ctx context.Context, runID string) error {
	if err := c.runs.Pause(ctx, runID); err != nil {
		return err
	}
	c.notifyStateChange(ctx, runID, store.RunStatusPaused)
	return nil
}

// Resume transitions a PAUSED Run back to RUNNING or SUMMARIZING depending
// on whether its probe phase had already finished.
func (c *Controller) Resume(ctx context.Context, runID string) error {
	if err := c.runs.Resume(ctx, runID); err != nil {
		return err
	}
	run, err := c.runs.Get(ctx, runID)
	if err == nil {
		c.notifyStateChange(ctx, runID, run.Status)
	}
	return nil
}

// Cancel transitions a non-terminal Run to CANCELLED.
func (c *Controller) Cancel(ctx context.Context, runID string) error {
	if err := c.runs.Cancel(ctx, runID); err != nil {
		return err
	}
	c.notifyStateChange(ctx, runID, store.RunStatusCancelled)
	return nil
}

// notifyStateChange broadcasts a run-state transition on a best-effort
// basis; failures are logged, never propagated to the caller, since Redis
// is not a source of truth (SPEC_FULL.md §5).
func (c *Controller) notifyStateChange(ctx context.Context, runID, status string) {
	err := c.notifier.PublishRunStateChange(ctx, notify.StateChange{RunID: runID, Status: status, At: time.Now()})
	notify.LogFailure(runID, status, err)
}
