package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/evalcore/internal/testutil"
	"github.com/evalforge/evalcore/pkg/config"
	"github.com/evalforge/evalcore/pkg/handler"
	"github.com/evalforge/evalcore/pkg/producer"
	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/evalforge/evalcore/pkg/ratelimiter"
	"github.com/evalforge/evalcore/pkg/store"
)

type fakeProviderStore struct {
	providers []config.ProviderConfig
}

func (f *fakeProviderStore) LoadProviders(ctx context.Context) ([]config.ProviderConfig, error) {
	return f.providers, nil
}

func testProviders() []config.ProviderConfig {
	return []config.ProviderConfig{{
		Name: "openai", Kind: config.ProviderKindOpenAI, Enabled: true,
		MaxParallelRequests: 4, RequestsPerMinute: 600,
		Models: []config.ModelConfig{{ID: "gpt-4o", APIName: "gpt-4o-2024-08-06", InputCostPer1K: 0.01, OutputCostPer1K: 0.03}},
	}}
}

type fakeTranscriptProducer struct {
	err     error
	content producer.TranscriptContent
}

func (f *fakeTranscriptProducer) Probe(ctx context.Context, input producer.TranscriptInput) (*producer.TranscriptContent, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := f.content
	return &c, nil
}

type fakeEnqueuer struct {
	calls []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobType, modelID string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	f.calls = append(f.calls, jobType)
	return uuid.NewString(), nil
}

func TestProbeHandler_SuccessPersistsTranscriptAndAdvancesProgress(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	defID, scenarioID, runID := "def-1", "scn-1", "run-1"
	_, err := pool.Exec(ctx, `INSERT INTO definitions (definition_id, name, preamble, template, dimensions, created_at)
		VALUES ($1, 'd', 'preamble', 'tmpl', '[]', now())`, defID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO scenarios (scenario_id, definition_id, prompt, dimension_values, created_at)
		VALUES ($1, $2, 'say hi', '{}', now())`, scenarioID, defID)
	require.NoError(t, err)

	runs := store.NewRunStore(pool)
	err = runs.Create(ctx, &store.Run{
		ID: runID, DefinitionID: defID, Status: store.RunStatusPending,
		Config: store.RunConfig{ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL"},
		Progress: store.Progress{Total: 1},
	}, []string{scenarioID})
	require.NoError(t, err)

	scenarios := store.NewScenarioStore(pool)
	definitions := store.NewDefinitionStore(pool)
	transcripts := store.NewTranscriptStore(pool)
	probeResults := store.NewProbeResultStore(pool)

	registry := provider.New(&fakeProviderStore{providers: testProviders()}, time.Minute)
	limiter := ratelimiter.NewManager()
	limiter.Reload(testProviders(), 0)

	fakeProd := &fakeTranscriptProducer{content: producer.TranscriptContent{
		Turns:             []producer.Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		TotalInputTokens:  10,
		TotalOutputTokens: 5,
		StartedAt:         time.Unix(1000, 0).UTC(),
		CompletedAt:       time.Unix(1001, 0).UTC(),
	}}
	enq := &fakeEnqueuer{}

	h := handler.NewProbeHandler(runs, scenarios, definitions, transcripts, probeResults, registry, limiter, fakeProd, enq, 3)

	payload := `{"runId":"` + runID + `","scenarioId":"` + scenarioID + `","modelId":"gpt-4o","config":{}}`
	job := queue.Job{ID: "job-1", Payload: []byte(payload), RetryLimit: 3}

	failed, batchErr := h.Handle(ctx, []queue.Job{job})
	require.NoError(t, batchErr)
	assert.Empty(t, failed)

	run, err := runs.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusSummarizing, run.Status)
	assert.Equal(t, 1, run.Progress.Completed)
	assert.Equal(t, 1, run.SummarizeProg.Total)

	transcript, err := transcripts.FindByAttempt(ctx, runID, scenarioID, "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, transcript)
	assert.Equal(t, "gpt-4o-2024-08-06", transcript.ResolvedModelVersion)
	assert.Len(t, transcript.Content.Turns, 2)

	// Since this single probe pushed the run straight to SUMMARIZING, its
	// own transcript must have a summarize job enqueued immediately.
	assert.Contains(t, enq.calls, queue.JobTypeSummarizeTranscript)
}

func TestProbeHandler_NonRetryableFailureRecordsTerminalFailure(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	defID, scenarioID, runID := "def-2", "scn-2", "run-2"
	_, err := pool.Exec(ctx, `INSERT INTO definitions (definition_id, name, preamble, template, dimensions, created_at)
		VALUES ($1, 'd', 'preamble', 'tmpl', '[]', now())`, defID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO scenarios (scenario_id, definition_id, prompt, dimension_values, created_at)
		VALUES ($1, $2, 'say hi', '{}', now())`, scenarioID, defID)
	require.NoError(t, err)

	runs := store.NewRunStore(pool)
	err = runs.Create(ctx, &store.Run{
		ID: runID, DefinitionID: defID, Status: store.RunStatusPending,
		Config:   store.RunConfig{ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL"},
		Progress: store.Progress{Total: 1},
	}, []string{scenarioID})
	require.NoError(t, err)

	registry := provider.New(&fakeProviderStore{providers: testProviders()}, time.Minute)
	limiter := ratelimiter.NewManager()
	limiter.Reload(testProviders(), 0)

	fakeProd := &fakeTranscriptProducer{err: errors.New("validation failed: bad scenario")}
	enq := &fakeEnqueuer{}

	h := handler.NewProbeHandler(runs,
		store.NewScenarioStore(pool), store.NewDefinitionStore(pool),
		store.NewTranscriptStore(pool), store.NewProbeResultStore(pool),
		registry, limiter, fakeProd, enq, 3)

	payload := `{"runId":"` + runID + `","scenarioId":"` + scenarioID + `","modelId":"gpt-4o","config":{}}`
	job := queue.Job{ID: "job-2", Payload: []byte(payload), RetryLimit: 3}

	failed, batchErr := h.Handle(ctx, []queue.Job{job})
	require.NoError(t, batchErr)
	assert.Empty(t, failed, "non-retryable failure must not ask the queue to retry")

	run, err := runs.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Progress.Failed)
	// No Transcript was ever persisted for this run, so there is nothing to
	// summarize: it must complete directly rather than park in SUMMARIZING.
	assert.Equal(t, store.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.SummarizeProg.Total)
	require.NotNil(t, run.CompletedAt)
}

func TestProbeHandler_RetryableFailureUnderLimitReturnsErrorForRedelivery(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	defID, scenarioID, runID := "def-3", "scn-3", "run-3"
	_, err := pool.Exec(ctx, `INSERT INTO definitions (definition_id, name, preamble, template, dimensions, created_at)
		VALUES ($1, 'd', 'preamble', 'tmpl', '[]', now())`, defID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO scenarios (scenario_id, definition_id, prompt, dimension_values, created_at)
		VALUES ($1, $2, 'say hi', '{}', now())`, scenarioID, defID)
	require.NoError(t, err)

	runs := store.NewRunStore(pool)
	err = runs.Create(ctx, &store.Run{
		ID: runID, DefinitionID: defID, Status: store.RunStatusPending,
		Config:   store.RunConfig{ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL"},
		Progress: store.Progress{Total: 1},
	}, []string{scenarioID})
	require.NoError(t, err)

	registry := provider.New(&fakeProviderStore{providers: testProviders()}, time.Minute)
	limiter := ratelimiter.NewManager()
	limiter.Reload(testProviders(), 0)

	fakeProd := &fakeTranscriptProducer{err: errors.New("ETIMEDOUT")}
	enq := &fakeEnqueuer{}

	h := handler.NewProbeHandler(runs,
		store.NewScenarioStore(pool), store.NewDefinitionStore(pool),
		store.NewTranscriptStore(pool), store.NewProbeResultStore(pool),
		registry, limiter, fakeProd, enq, 3)

	payload := `{"runId":"` + runID + `","scenarioId":"` + scenarioID + `","modelId":"gpt-4o","config":{}}`
	job := queue.Job{ID: "job-3", Payload: []byte(payload), RetryLimit: 3, RetryCount: 0}

	failed, batchErr := h.Handle(ctx, []queue.Job{job})
	require.NoError(t, batchErr)
	require.Contains(t, failed, "job-3", "retryable failure under the retry limit must be reported for redelivery")

	run, err := runs.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusPending, run.Status, "progress must not advance while the attempt is still retryable")
}
