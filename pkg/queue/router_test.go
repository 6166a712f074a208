package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	entries map[string]provider.Entry
	err     error
}

func (f *fakeLookup) Lookup(_ context.Context, modelID string) (provider.Entry, error) {
	if f.err != nil {
		return provider.Entry{}, f.err
	}
	e, ok := f.entries[modelID]
	if !ok {
		return provider.Entry{}, provider.ErrUnknownProvider
	}
	return e, nil
}

func TestRouter_QueueNameFor_ProbeScenario_ResolvesProvider(t *testing.T) {
	lookup := &fakeLookup{entries: map[string]provider.Entry{
		"gpt-4o": {ProviderName: "openai"},
	}}
	router := queue.NewRouter(lookup)

	name, err := router.QueueNameFor(context.Background(), queue.JobTypeProbeScenario, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "probe_openai", name)
}

func TestRouter_QueueNameFor_ProbeScenario_FallsBackOnUnknownModel(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("boom")}
	router := queue.NewRouter(lookup)

	name, err := router.QueueNameFor(context.Background(), queue.JobTypeProbeScenario, "mystery-model")
	require.NoError(t, err)
	assert.Equal(t, "probe_scenario", name)
}

func TestRouter_QueueNameFor_ProbeScenario_EmptyModelUsesDefault(t *testing.T) {
	router := queue.NewRouter(&fakeLookup{})

	name, err := router.QueueNameFor(context.Background(), queue.JobTypeProbeScenario, "")
	require.NoError(t, err)
	assert.Equal(t, "probe_scenario", name)
}

func TestRouter_QueueNameFor_SummarizeAlwaysSharedQueue(t *testing.T) {
	router := queue.NewRouter(&fakeLookup{})

	name, err := router.QueueNameFor(context.Background(), queue.JobTypeSummarizeTranscript, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "summarize_transcript", name)
}

func TestRouter_QueueNameFor_OtherJobTypesRouteToThemselves(t *testing.T) {
	router := queue.NewRouter(&fakeLookup{})

	name, err := router.QueueNameFor(context.Background(), queue.JobTypeComputeTokenStats, "")
	require.NoError(t, err)
	assert.Equal(t, queue.JobTypeComputeTokenStats, name)
}
