package ratelimiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_ConcurrencyBound(t *testing.T) {
	l := New("p1", 2, 1000)

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Schedule(context.Background(), "m1", "s1", func(ctx context.Context) error {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if cur <= old || atomic.CompareAndSwapInt32(&maxObserved, old, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
}

func TestLimiter_ReservoirBound(t *testing.T) {
	// requestsPerMinute=600 gives a 100ms spacing rule, fast enough to
	// assert timing without a slow test.
	l := New("p1", 100, 600)

	start := time.Now()
	for i := 0; i < 4; i++ {
		err := l.Schedule(context.Background(), "m1", "s1", func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// 4 starts span at least 3 spacing intervals of 100ms.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, int64(4), l.Counters().Done)
}

func TestLimiter_PropagatesFnError(t *testing.T) {
	l := New("p1", 1, 1000)
	err := l.Schedule(context.Background(), "m1", "s1", func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	c := l.Counters()
	assert.Equal(t, int64(0), c.Running)
}

func TestLimiter_RecordsRecentCompletions(t *testing.T) {
	l := New("p1", 4, 1000)
	for i := 0; i < 3; i++ {
		err := l.Schedule(context.Background(), "m1", "s1", func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
	recent := l.RecentCompletions()
	assert.Len(t, recent, 3)
	for _, e := range recent {
		assert.True(t, e.Success)
	}
}
