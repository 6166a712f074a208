package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_ProcessesClaimedJobsAndReportsHealth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Send(ctx, "analyze_basic", []byte(`{"runId":"r1"}`), queue.EnqueueOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []queue.Job
	handler := func(_ context.Context, jobs []queue.Job) (map[string]error, error) {
		mu.Lock()
		seen = append(seen, jobs...)
		mu.Unlock()
		return nil, nil
	}

	w := queue.NewWorker("w1", "pod-a", "analyze_basic", 5, store, handler, queue.PollConfig{
		PollInterval:       10 * time.Millisecond,
		PollIntervalJitter: 0,
	})
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	counts, err := store.CountByStatus(ctx, "analyze_basic")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Completed)

	health := w.Health()
	assert.Equal(t, 1, health.JobsProcessed)
}

func TestWorker_RetriesFailedJobsFromHandlerMap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Send(ctx, "analyze_basic", []byte(`{}`), queue.EnqueueOptions{RetryLimit: 5, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	var attempts int
	var mu sync.Mutex
	handler := func(_ context.Context, jobs []queue.Job) (map[string]error, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return map[string]error{jobs[0].ID: errors.New("transient")}, nil
		}
		return nil, nil
	}

	w := queue.NewWorker("w1", "pod-a", "analyze_basic", 5, store, handler, queue.PollConfig{
		PollInterval: 5 * time.Millisecond,
	})
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		counts, err := store.CountByStatus(ctx, "analyze_basic")
		return err == nil && counts.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 2)
	_ = id
}

func TestPool_StartStopAggregatesWorkerHealth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	noop := func(_ context.Context, jobs []queue.Job) (map[string]error, error) { return nil, nil }

	pool := queue.NewPool("pod-a", store, time.Hour, time.Hour)
	pool.Register("probe_openai", 5, noop, queue.PollConfig{PollInterval: 20 * time.Millisecond})
	pool.Register("summarize_transcript", 5, noop, queue.PollConfig{PollInterval: 20 * time.Millisecond})

	pool.Start(ctx)
	defer pool.Stop()

	time.Sleep(50 * time.Millisecond)
	health := pool.Health()
	assert.Equal(t, 2, health.TotalWorkers)
}
