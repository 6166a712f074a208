package run_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/evalcore/pkg/run"
)

func TestController_ReconcileRun_ReenqueuesMissingProbeAndSummarizeJobs(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	defID := "def-recover-1"
	h.seedDefinitionWithScenarios(t, defID, []string{"s1", "s2"})

	created, err := h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID: defID, ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL",
	})
	require.NoError(t, err)

	// Drain the queue to simulate a crash after jobs were claimed but
	// before the worker processed them (jobs vanish from "pending" once
	// claimed; here we just delete them outright to simulate total loss).
	counts, err := h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	require.Equal(t, 2, counts.Pending)

	_, err = h.pool.Exec(ctx, `DELETE FROM jobs WHERE queue_name = 'probe_openai'`)
	require.NoError(t, err)

	counts, err = h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	require.Equal(t, 0, counts.Pending)

	require.NoError(t, h.controller.ReconcileRun(ctx, created.ID))

	counts, err = h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending, "reconciliation must re-enqueue both missing probe jobs")
}

func TestController_ReconcileRun_SkipsAttemptsWithTerminalProbeResults(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	defID := "def-recover-2"
	h.seedDefinitionWithScenarios(t, defID, []string{"s1"})

	created, err := h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID: defID, ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL",
	})
	require.NoError(t, err)

	_, err = h.pool.Exec(ctx, `DELETE FROM jobs WHERE queue_name = 'probe_openai'`)
	require.NoError(t, err)

	require.NoError(t, h.probeResults.RecordFailure(ctx, "pr-1", created.ID, "s1", "gpt-4o", "http_400", "bad request", 0))

	require.NoError(t, h.controller.ReconcileRun(ctx, created.ID))

	counts, err := h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Pending, "an attempt with a terminal ProbeResult must not be re-enqueued")
}

func TestController_ReconcileAll_IsIdempotentWithNoInterveningActivity(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	defID := "def-recover-3"
	h.seedDefinitionWithScenarios(t, defID, []string{"s1"})

	_, err := h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID: defID, ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL",
	})
	require.NoError(t, err)

	require.NoError(t, h.controller.ReconcileAll(ctx))

	counts, err := h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	firstPending := counts.Pending

	require.NoError(t, h.controller.ReconcileAll(ctx))

	counts, err = h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	assert.Equal(t, firstPending, counts.Pending, "reconciling twice back-to-back must not enqueue additional jobs")
}
