package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evalforge/evalcore/pkg/apperrors"
	"github.com/evalforge/evalcore/pkg/producer"
	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/evalforge/evalcore/pkg/ratelimiter"
	"github.com/evalforge/evalcore/pkg/store"
	"github.com/google/uuid"
)

// ProbeHandler processes probe_<provider> batches: calls the transcript
// producer through the rate limiter, persists the attempt, and advances
// run progress (spec.md §4.4).
type ProbeHandler struct {
	runs         *store.RunStore
	scenarios    *store.ScenarioStore
	definitions  *store.DefinitionStore
	transcripts  *store.TranscriptStore
	probeResults *store.ProbeResultStore
	registry     *provider.Registry
	limiter      *ratelimiter.Manager
	producer     producer.TranscriptProducer
	enqueuer     queue.Enqueuer
	defaultRetryLimit int
}

// NewProbeHandler constructs a ProbeHandler.
func NewProbeHandler(
	runs *store.RunStore,
	scenarios *store.ScenarioStore,
	definitions *store.DefinitionStore,
	transcripts *store.TranscriptStore,
	probeResults *store.ProbeResultStore,
	registry *provider.Registry,
	limiter *ratelimiter.Manager,
	prod producer.TranscriptProducer,
	enqueuer queue.Enqueuer,
	defaultRetryLimit int,
) *ProbeHandler {
	return &ProbeHandler{
		runs: runs, scenarios: scenarios, definitions: definitions,
		transcripts: transcripts, probeResults: probeResults,
		registry: registry, limiter: limiter, producer: prod, enqueuer: enqueuer,
		defaultRetryLimit: defaultRetryLimit,
	}
}

// Handle satisfies queue.Handler. Jobs are processed concurrently so their
// rate-limiter waits overlap; each job's outcome is reported independently
// via the returned map (spec.md §4.7c).
func (h *ProbeHandler) Handle(ctx context.Context, jobs []queue.Job) (map[string]error, error) {
	type result struct {
		id  string
		err error
	}
	results := make(chan result, len(jobs))

	for _, j := range jobs {
		go func(j queue.Job) {
			results <- result{id: j.ID, err: h.handleOne(ctx, j)}
		}(j)
	}

	failed := make(map[string]error)
	for range jobs {
		r := <-results
		if r.err != nil {
			failed[r.id] = r.err
		}
	}
	if len(failed) == 0 {
		return nil, nil
	}
	return failed, nil
}

func (h *ProbeHandler) handleOne(ctx context.Context, job queue.Job) error {
	var payload queue.ProbeScenarioPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode probe payload: %w", err)
	}
	log := slog.With("run_id", payload.RunID, "scenario_id", payload.ScenarioID, "model_id", payload.ModelID)

	run, err := h.runs.Get(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil // run deleted entirely: nothing to do
		}
		return fmt.Errorf("load run %s: %w", payload.RunID, err)
	}

	if isRunTerminal(run.Status) {
		log.Info("run is terminal, dropping probe job")
		return nil
	}
	if run.Status == store.RunStatusPaused {
		return errors.New(RunPausedCause)
	}

	active, err := h.scenarios.IsActive(ctx, payload.ScenarioID, h.definitions)
	if err != nil {
		return fmt.Errorf("resolve scenario %s: %w", payload.ScenarioID, err)
	}
	if !active {
		log.Warn("scenario or its definition is soft-deleted, dropping probe job")
		return nil
	}

	// Idempotency anchor: a replayed success is detected by an
	// already-persisted Transcript for this (run, scenario, model) tuple.
	if existing, err := h.transcripts.FindByAttempt(ctx, payload.RunID, payload.ScenarioID, payload.ModelID); err == nil && existing != nil {
		log.Info("transcript already persisted for this attempt, treating as replay")
		return nil
	}

	scenario, err := h.scenarios.Get(ctx, payload.ScenarioID)
	if err != nil {
		return fmt.Errorf("load scenario %s: %w", payload.ScenarioID, err)
	}
	definition, err := h.definitions.Get(ctx, scenario.DefinitionID)
	if err != nil {
		return fmt.Errorf("load definition %s: %w", scenario.DefinitionID, err)
	}

	entry, err := h.registry.Lookup(ctx, payload.ModelID)
	if err != nil {
		return fmt.Errorf("resolve model %s: %w", payload.ModelID, err)
	}

	input := producer.TranscriptInput{
		RunID:      payload.RunID,
		ScenarioID: payload.ScenarioID,
		ModelID:    payload.ModelID,
		Scenario: producer.ScenarioInput{
			Preamble: definition.Preamble,
			Prompt:   scenario.Prompt,
		},
		Config: producer.ProbeConfig{
			Temperature: payload.Config.Temperature,
			MaxTurns:    payload.Config.MaxTurns,
		},
		ModelCost: &producer.ModelCost{InputCostPer1K: entry.InputCostPer1K, OutputCostPer1K: entry.OutputCostPer1K},
	}

	limiter, err := h.limiter.ForProbe(entry.ProviderName)
	if err != nil {
		return fmt.Errorf("resolve rate limiter for %s: %w", entry.ProviderName, err)
	}

	var content *producer.TranscriptContent
	probeErr := limiter.Schedule(ctx, payload.ModelID, payload.ScenarioID, func(ctx context.Context) error {
		var err error
		content, err = h.producer.Probe(ctx, input)
		return err
	})

	if probeErr != nil {
		retryable, code, message := classifyProducerError(probeErr)
		if retryable && job.RetryCount < effectiveRetryLimit(job, h.defaultRetryLimit) {
			return probeErr
		}
		// Non-retryable, or retries exhausted: record terminal failure.
		if err := h.probeResults.RecordFailure(ctx, uuid.NewString(), payload.RunID, payload.ScenarioID, payload.ModelID, code, message, job.RetryCount); err != nil {
			return fmt.Errorf("record probe failure: %w", err)
		}
		_, transcriptIDs, err := h.runs.IncrementFailed(ctx, payload.RunID)
		if err != nil {
			return fmt.Errorf("increment failed progress: %w", err)
		}
		h.enqueueSummarizeBatch(ctx, log, payload.RunID, transcriptIDs)
		return nil
	}

	transcriptID := uuid.NewString()
	err = h.transcripts.Create(ctx, &store.Transcript{
		ID: transcriptID, RunID: payload.RunID, ScenarioID: payload.ScenarioID, ModelID: payload.ModelID,
		ResolvedModelVersion: entry.APIName,
		Content: store.TranscriptContent{
			Turns:             convertTurns(content.Turns),
			TotalInputTokens:  content.TotalInputTokens,
			TotalOutputTokens: content.TotalOutputTokens,
			StartedAt:         content.StartedAt,
			CompletedAt:       content.CompletedAt,
		},
		DefinitionSnapshot: definition.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}

	if err := h.probeResults.RecordSuccess(ctx, uuid.NewString(), payload.RunID, payload.ScenarioID, payload.ModelID, transcriptID); err != nil {
		return fmt.Errorf("record probe success: %w", err)
	}

	_, transcriptIDs, err := h.runs.IncrementCompleted(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("increment completed progress: %w", err)
	}

	// transcriptIDs is non-empty only when this probe's completion is the
	// one that pushed the run into SUMMARIZING. It then holds every
	// Transcript the run has accumulated so far, not just this one, so the
	// summarize phase starts on all of them immediately instead of waiting
	// on reconciliation.
	h.enqueueSummarizeBatch(ctx, log, payload.RunID, transcriptIDs)

	return nil
}

func (h *ProbeHandler) enqueueSummarizeBatch(ctx context.Context, log *slog.Logger, runID string, transcriptIDs []string) {
	for _, transcriptID := range transcriptIDs {
		if err := h.enqueueSummarize(ctx, runID, transcriptID); err != nil {
			log.Error("failed to enqueue summarize job", "transcript_id", transcriptID, "error", err)
		}
	}
}

func (h *ProbeHandler) enqueueSummarize(ctx context.Context, runID, transcriptID string) error {
	payload, err := json.Marshal(queue.SummarizeTranscriptPayload{RunID: runID, TranscriptID: transcriptID})
	if err != nil {
		return fmt.Errorf("marshal summarize payload: %w", err)
	}
	_, err = h.enqueuer.Enqueue(ctx, queue.JobTypeSummarizeTranscript, "", payload, queue.EnqueueOptions{
		Priority:   queue.PriorityNormal,
		RetryLimit: 3,
	})
	return err
}

func convertTurns(turns []producer.Turn) []store.Turn {
	out := make([]store.Turn, len(turns))
	for i, t := range turns {
		out[i] = store.Turn{Role: t.Role, Content: t.Content}
	}
	return out
}

func isRunTerminal(status string) bool {
	switch status {
	case store.RunStatusCompleted, store.RunStatusFailed, store.RunStatusCancelled:
		return true
	default:
		return false
	}
}

func effectiveRetryLimit(job queue.Job, fallback int) int {
	if job.RetryLimit > 0 {
		return job.RetryLimit
	}
	return fallback
}
