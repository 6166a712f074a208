package store_test

import (
	"context"
	"testing"

	"github.com/evalforge/evalcore/internal/testutil"
	"github.com/evalforge/evalcore/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptStore_CreateIsIdempotentUnderReplay(t *testing.T) {
	ctx := context.Background()
	pool := testutil.SetupTestDatabase(t)

	_, err := pool.Exec(ctx, `INSERT INTO definitions (definition_id, name, template, dimensions) VALUES ('d1', 'Def', 'tmpl', '[]')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO scenarios (scenario_id, definition_id, prompt) VALUES ('s1', 'd1', 'p')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO runs (run_id, definition_id, status, config, progress_total) VALUES ('r1', 'd1', 'running', '{}', 1)`)
	require.NoError(t, err)

	transcripts := store.NewTranscriptStore(pool)

	found, err := transcripts.FindByAttempt(ctx, "r1", "s1", "m1")
	assert.Nil(t, found)
	assert.Error(t, err) // ErrNotFound on first lookup

	require.NoError(t, transcripts.Create(ctx, &store.Transcript{
		ID: "t1", RunID: "r1", ScenarioID: "s1", ModelID: "m1", ResolvedModelVersion: "m1-v1",
	}))

	// Replayed probe success: same (run, scenario, model) attempt, different id.
	require.NoError(t, transcripts.Create(ctx, &store.Transcript{
		ID: "t2", RunID: "r1", ScenarioID: "s1", ModelID: "m1", ResolvedModelVersion: "m1-v1",
	}))

	found, err = transcripts.FindByAttempt(ctx, "r1", "s1", "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "t1", found.ID, "first writer wins on a replayed attempt")

	count, err := transcripts.CountByRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTranscriptStore_RecordDecisionIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	pool := testutil.SetupTestDatabase(t)

	_, err := pool.Exec(ctx, `INSERT INTO definitions (definition_id, name, template, dimensions) VALUES ('d1', 'Def', 'tmpl', '[]')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO scenarios (scenario_id, definition_id, prompt) VALUES ('s1', 'd1', 'p')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO runs (run_id, definition_id, status, config, progress_total) VALUES ('r1', 'd1', 'summarizing', '{}', 1)`)
	require.NoError(t, err)

	transcripts := store.NewTranscriptStore(pool)
	require.NoError(t, transcripts.Create(ctx, &store.Transcript{ID: "t1", RunID: "r1", ScenarioID: "s1", ModelID: "m1", ResolvedModelVersion: "m1-v1"}))

	require.NoError(t, transcripts.RecordDecision(ctx, "t1", "approve", "looks good"))
	require.NoError(t, transcripts.RecordDecision(ctx, "t1", "reject", "late replay"))

	got, err := transcripts.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.DecisionCode)
	assert.Equal(t, "approve", *got.DecisionCode, "second decision write must not override the first")
}
