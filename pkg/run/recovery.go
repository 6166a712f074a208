package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/evalforge/evalcore/pkg/queue"
)

// ReconcileAll scans every non-terminal Run and reconciles it, the
// operation performed at startup and periodically thereafter (spec.md
// §4.6). It is idempotent: running it twice back-to-back with no
// intervening activity enqueues nothing the second time (spec.md §8
// testable property 3), since every check consults the queue for an
// already-scheduled job before enqueuing another.
func (c *Controller) ReconcileAll(ctx context.Context) error {
	runs, err := c.runs.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal runs: %w", err)
	}
	for _, r := range runs {
		if err := c.ReconcileRun(ctx, r.ID); err != nil {
			slog.Error("failed to reconcile run", "run_id", r.ID, "error", err)
		}
	}
	return nil
}

// ReconcileRun re-enqueues probe jobs for selected (scenario, model) pairs
// that have neither a terminal ProbeResult nor a currently-scheduled queue
// job, and summarize jobs for Transcripts lacking summarizedAt under the
// same rule.
func (c *Controller) ReconcileRun(ctx context.Context, runID string) error {
	run, err := c.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	selectedScenarioIDs, err := c.runs.SelectedScenarioIDs(ctx, runID)
	if err != nil {
		return fmt.Errorf("list selected scenarios for run %s: %w", runID, err)
	}

	terminalAttempts, err := c.probeResults.ListTerminalAttempts(ctx, runID)
	if err != nil {
		return fmt.Errorf("list terminal probe attempts for run %s: %w", runID, err)
	}

	for _, scenarioID := range selectedScenarioIDs {
		for _, modelID := range run.Config.ModelIDs {
			key := scenarioID + "/" + modelID
			if terminalAttempts[key] {
				continue
			}
			if err := c.reconcileProbe(ctx, runID, scenarioID, modelID, run.Config.Priority); err != nil {
				slog.Error("failed to reconcile probe job", "run_id", runID, "scenario_id", scenarioID, "model_id", modelID, "error", err)
			}
		}
	}

	unsummarized, err := c.transcripts.ListUnsummarized(ctx, runID)
	if err != nil {
		return fmt.Errorf("list unsummarized transcripts for run %s: %w", runID, err)
	}
	for _, t := range unsummarized {
		if err := c.reconcileSummarize(ctx, runID, t.ID); err != nil {
			slog.Error("failed to reconcile summarize job", "run_id", runID, "transcript_id", t.ID, "error", err)
		}
	}

	return nil
}

func (c *Controller) reconcileProbe(ctx context.Context, runID, scenarioID, modelID, priority string) error {
	queueName, err := c.router.QueueNameFor(ctx, queue.JobTypeProbeScenario, modelID)
	if err != nil {
		return fmt.Errorf("route probe job for model %s: %w", modelID, err)
	}

	exists, err := c.queueStore.ExistsPendingOrActiveWithPayloadField(ctx, queueName, "scenarioId", scenarioID)
	if err != nil {
		return fmt.Errorf("check pending probe job: %w", err)
	}
	if exists {
		return nil
	}

	return c.enqueueProbe(ctx, runID, scenarioID, modelID, priority)
}

func (c *Controller) reconcileSummarize(ctx context.Context, runID, transcriptID string) error {
	queueName, err := c.router.QueueNameFor(ctx, queue.JobTypeSummarizeTranscript, "")
	if err != nil {
		return fmt.Errorf("route summarize job: %w", err)
	}

	exists, err := c.queueStore.ExistsPendingOrActiveWithPayloadField(ctx, queueName, "transcriptId", transcriptID)
	if err != nil {
		return fmt.Errorf("check pending summarize job: %w", err)
	}
	if exists {
		return nil
	}

	payload, err := json.Marshal(queue.SummarizeTranscriptPayload{RunID: runID, TranscriptID: transcriptID})
	if err != nil {
		return fmt.Errorf("marshal summarize payload: %w", err)
	}
	_, err = c.enqueuer.Enqueue(ctx, queue.JobTypeSummarizeTranscript, "", payload, queue.EnqueueOptions{
		Priority:   queue.PriorityNormal,
		RetryLimit: 3,
	})
	return err
}
