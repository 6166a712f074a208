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
)

const (
	decisionCodeError = "error"
)

// SummarizeHandler processes summarize_transcript batches: same shape as
// ProbeHandler, but against the summary producer and the transcript's
// decision fields (spec.md §4.5).
type SummarizeHandler struct {
	runs        *store.RunStore
	transcripts *store.TranscriptStore
	analyses    *store.AnalysisStore
	settings    *store.SettingsStore
	registry    *provider.Registry
	limiter     *ratelimiter.Manager
	producer    producer.SummaryProducer
	enqueuer    queue.Enqueuer
	defaultRetryLimit int
}

// NewSummarizeHandler constructs a SummarizeHandler.
func NewSummarizeHandler(
	runs *store.RunStore,
	transcripts *store.TranscriptStore,
	analyses *store.AnalysisStore,
	settings *store.SettingsStore,
	registry *provider.Registry,
	limiter *ratelimiter.Manager,
	prod producer.SummaryProducer,
	enqueuer queue.Enqueuer,
	defaultRetryLimit int,
) *SummarizeHandler {
	return &SummarizeHandler{
		runs: runs, transcripts: transcripts, analyses: analyses, settings: settings,
		registry: registry, limiter: limiter, producer: prod, enqueuer: enqueuer,
		defaultRetryLimit: defaultRetryLimit,
	}
}

// Handle satisfies queue.Handler.
func (h *SummarizeHandler) Handle(ctx context.Context, jobs []queue.Job) (map[string]error, error) {
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

func (h *SummarizeHandler) handleOne(ctx context.Context, job queue.Job) error {
	var payload queue.SummarizeTranscriptPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode summarize payload: %w", err)
	}
	log := slog.With("run_id", payload.RunID, "transcript_id", payload.TranscriptID)

	run, err := h.runs.Get(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load run %s: %w", payload.RunID, err)
	}
	if isRunTerminal(run.Status) {
		log.Info("run is terminal, dropping summarize job")
		return nil
	}
	if run.Status == store.RunStatusPaused {
		return errors.New(RunPausedCause)
	}

	transcript, err := h.transcripts.Get(ctx, payload.TranscriptID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Info("transcript not found, dropping summarize job")
			return nil
		}
		return fmt.Errorf("load transcript %s: %w", payload.TranscriptID, err)
	}
	if transcript.SummarizedAt != nil {
		log.Info("transcript already summarized, treating as replay")
		return nil
	}

	summaryModelID := transcript.ModelID
	if payload.SummaryModelID != nil && *payload.SummaryModelID != "" {
		summaryModelID = *payload.SummaryModelID
	} else if infra, err := h.settings.GetInfraModel(ctx, "summarize"); err == nil && infra != nil {
		summaryModelID = infra.ModelID
	}

	entry, err := h.registry.Lookup(ctx, summaryModelID)
	if err != nil {
		return fmt.Errorf("resolve summary model %s: %w", summaryModelID, err)
	}

	limiter, err := h.limiter.ForSummarize(entry.ProviderName)
	if err != nil {
		return fmt.Errorf("resolve summarize rate limiter for %s: %w", entry.ProviderName, err)
	}

	input := producer.SummaryInput{
		TranscriptID: transcript.ID,
		ModelID:      summaryModelID,
		TranscriptContent: producer.TranscriptContent{
			Turns:             convertTurnsToProducer(transcript.Content.Turns),
			TotalInputTokens:  transcript.Content.TotalInputTokens,
			TotalOutputTokens: transcript.Content.TotalOutputTokens,
			StartedAt:         transcript.Content.StartedAt,
			CompletedAt:       transcript.Content.CompletedAt,
		},
	}

	var summary *producer.SummaryContent
	summarizeErr := limiter.Schedule(ctx, summaryModelID, transcript.ScenarioID, func(ctx context.Context) error {
		var err error
		summary, err = h.producer.Summarize(ctx, input)
		return err
	})

	if summarizeErr != nil {
		retryable, _, message := classifyProducerError(summarizeErr)
		if retryable && job.RetryCount < effectiveRetryLimit(job, h.defaultRetryLimit) {
			return summarizeErr
		}
		// Retries exhausted or non-retryable: write a synthetic error
		// decision so the run can still reach completion (spec.md §4.5).
		if err := h.transcripts.RecordDecision(ctx, transcript.ID, decisionCodeError, message); err != nil {
			return fmt.Errorf("record synthetic error decision: %w", err)
		}
		return h.advanceSummarizeFailed(ctx, payload.RunID)
	}

	if err := h.transcripts.RecordDecision(ctx, transcript.ID, summary.DecisionCode, summary.DecisionText); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}

	return h.advanceSummarizeCompleted(ctx, payload.RunID)
}

func (h *SummarizeHandler) advanceSummarizeCompleted(ctx context.Context, runID string) error {
	updated, err := h.runs.IncrementSummarizeCompleted(ctx, runID)
	if err != nil {
		return fmt.Errorf("increment summarize-completed progress: %w", err)
	}
	h.maybeTriggerDownstream(ctx, updated)
	return nil
}

func (h *SummarizeHandler) advanceSummarizeFailed(ctx context.Context, runID string) error {
	updated, err := h.runs.IncrementSummarizeFailed(ctx, runID)
	if err != nil {
		return fmt.Errorf("increment summarize-failed progress: %w", err)
	}
	h.maybeTriggerDownstream(ctx, updated)
	return nil
}

// maybeTriggerDownstream fires the best-effort analysis and token-stats
// jobs the moment a Run reaches COMPLETED. Failures here are logged, not
// propagated: they must not cause the summarize job itself to retry.
func (h *SummarizeHandler) maybeTriggerDownstream(ctx context.Context, run *store.Run) {
	if run.Status != store.RunStatusCompleted {
		return
	}
	log := slog.With("run_id", run.ID)

	tokenStatsPayload, err := json.Marshal(queue.ComputeTokenStatsPayload{RunID: run.ID})
	if err != nil {
		log.Error("failed to marshal token-stats payload", "error", err)
	} else if _, err := h.enqueuer.Enqueue(ctx, queue.JobTypeComputeTokenStats, "", tokenStatsPayload, queue.EnqueueOptions{
		Priority:     queue.PriorityLow,
		SingletonKey: run.ID,
	}); err != nil && !errors.Is(err, queue.ErrSingletonConflict) {
		log.Error("failed to enqueue token-stats job", "error", err)
	}

	analysisPayload, err := json.Marshal(queue.AnalyzeBasicPayload{RunID: run.ID})
	if err != nil {
		log.Error("failed to marshal analysis payload", "error", err)
	} else if _, err := h.enqueuer.Enqueue(ctx, queue.JobTypeAnalyzeBasic, "", analysisPayload, queue.EnqueueOptions{
		Priority: queue.PriorityLow,
	}); err != nil {
		log.Error("failed to enqueue analysis job", "error", err)
	}
}

func convertTurnsToProducer(turns []store.Turn) []producer.Turn {
	out := make([]producer.Turn, len(turns))
	for i, t := range turns {
		out[i] = producer.Turn{Role: t.Role, Content: t.Content}
	}
	return out
}
