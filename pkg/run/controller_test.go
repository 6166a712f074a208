package run_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/evalcore/internal/testutil"
	"github.com/evalforge/evalcore/pkg/config"
	"github.com/evalforge/evalcore/pkg/notify"
	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/evalforge/evalcore/pkg/run"
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
		Models: []config.ModelConfig{
			{ID: "gpt-4o", APIName: "gpt-4o-2024-08-06", InputCostPer1K: 0.01, OutputCostPer1K: 0.03},
			{ID: "gpt-4o-mini", APIName: "gpt-4o-mini-2024-07-18", InputCostPer1K: 0.001, OutputCostPer1K: 0.002},
		},
	}}
}

type testHarness struct {
	pool         *pgxpool.Pool
	controller   *run.Controller
	runs         *store.RunStore
	definitions  *store.DefinitionStore
	scenarios    *store.ScenarioStore
	transcripts  *store.TranscriptStore
	probeResults *store.ProbeResultStore
	queueStore   *queue.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	pool := testutil.SetupTestDatabase(t)

	runs := store.NewRunStore(pool)
	definitions := store.NewDefinitionStore(pool)
	scenarios := store.NewScenarioStore(pool)
	transcripts := store.NewTranscriptStore(pool)
	probeResults := store.NewProbeResultStore(pool)

	queueStore := queue.NewStore(pool)
	registry := provider.New(&fakeProviderStore{providers: testProviders()}, time.Minute)
	router := queue.NewRouter(registry)
	enqueuer := queue.NewRoutedEnqueuer(queueStore, router)

	c := run.NewController(runs, definitions, scenarios, transcripts, probeResults, queueStore, router, enqueuer, registry, notify.NewNoop())
	return &testHarness{
		pool: pool, controller: c, runs: runs, definitions: definitions,
		scenarios: scenarios, transcripts: transcripts, probeResults: probeResults, queueStore: queueStore,
	}
}

func (h *testHarness) seedDefinitionWithScenarios(t *testing.T, defID string, scenarioIDs []string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.pool.Exec(ctx, `INSERT INTO definitions (definition_id, name, preamble, template, dimensions, created_at)
		VALUES ($1, 'd', 'preamble', 'tmpl', '[]', now())`, defID)
	require.NoError(t, err)
	for _, sid := range scenarioIDs {
		_, err := h.pool.Exec(ctx, `INSERT INTO scenarios (scenario_id, definition_id, prompt, dimension_values, created_at)
			VALUES ($1, $2, 'say hi', '{}', now())`, sid, defID)
		require.NoError(t, err)
	}
}

func TestController_StartRun_SamplesAndFansOutProbeJobs(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	defID := "def-start-1"
	h.seedDefinitionWithScenarios(t, defID, []string{"s1", "s2", "s3", "s4"})

	seed := int64(42)
	created, err := h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID:     defID,
		ModelIDs:         []string{"gpt-4o", "gpt-4o-mini"},
		SamplePercentage: 50,
		SampleSeed:       &seed,
		Priority:         "NORMAL",
	})
	require.NoError(t, err)

	assert.Equal(t, store.RunStatusPending, created.Status)
	assert.Equal(t, 4, created.Progress.Total, "2 sampled scenarios x 2 models = 4 jobs")

	selected, err := h.runs.SelectedScenarioIDs(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, selected, 2)

	counts, err := h.queueStore.CountByStatus(ctx, "probe_openai")
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Pending, "one probe job per (selected scenario, model) pair")
}

func TestController_StartRun_RejectsInvalidInput(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	defID := "def-start-2"
	h.seedDefinitionWithScenarios(t, defID, []string{"s1"})

	_, err := h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID:     defID,
		ModelIDs:         nil,
		SamplePercentage: 100,
		Priority:         "NORMAL",
	})
	assert.Error(t, err, "empty model list must be rejected")

	_, err = h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID:     defID,
		ModelIDs:         []string{"gpt-4o"},
		SamplePercentage: 0,
		Priority:         "NORMAL",
	})
	assert.Error(t, err, "samplePercentage out of [1,100] must be rejected")

	_, err = h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID:     defID,
		ModelIDs:         []string{"gpt-4o"},
		SamplePercentage: 100,
		Priority:         "URGENT",
	})
	assert.Error(t, err, "unknown priority must be rejected")
}

func TestController_PauseResumeCancel(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	defID := "def-start-3"
	h.seedDefinitionWithScenarios(t, defID, []string{"s1"})

	created, err := h.controller.StartRun(ctx, run.StartRunInput{
		DefinitionID: defID, ModelIDs: []string{"gpt-4o"}, SamplePercentage: 100, Priority: "NORMAL",
	})
	require.NoError(t, err)

	require.NoError(t, h.controller.Pause(ctx, created.ID))
	paused, err := h.runs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusPaused, paused.Status)

	require.NoError(t, h.controller.Resume(ctx, created.ID))
	resumed, err := h.runs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusRunning, resumed.Status)

	require.NoError(t, h.controller.Cancel(ctx, created.ID))
	cancelled, err := h.runs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCancelled, cancelled.Status)
}
