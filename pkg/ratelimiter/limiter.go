// Package ratelimiter enforces, per provider, a maximum concurrency and a
// maximum number of call starts per rolling minute. One Limiter instance
// owns its own semaphore, reservoir, and ring buffer; there is no
// cross-provider sharing.
package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/evalforge/evalcore/pkg/metrics"
)

// CompletionEvent records one finished call for the live-metrics ring buffer.
type CompletionEvent struct {
	ModelID    string
	ScenarioID string
	Success    bool
	StartedAt  time.Time
	DurationMs int64
}

// Counters are the live figures exposed per limiter.
type Counters struct {
	Running int64
	Queued  int64
	Done    int64
}

const ringBufferSize = 10

// Limiter gates calls for a single provider (or provider+purpose, e.g. the
// separate "<provider>:summarize" instance spec.md §4.2 requires when a
// concurrency override is supplied).
type Limiter struct {
	key string

	sem     *semaphore.Weighted
	maxConc int64

	mu            sync.Mutex
	reservoirCap  int
	remaining     int
	resetAt       time.Time
	spacing       time.Duration
	nextStartAt   time.Time
	ring          []CompletionEvent
	ringPos       int
	ringFilled    bool
	running       int64
	queued        int64
	done          int64
}

// New constructs a Limiter for one provider key, enforcing maxConcurrent
// in-flight calls and requestsPerMinute starts in any rolling minute.
func New(key string, maxConcurrent, requestsPerMinute int) *Limiter {
	spacingMs := (60000 + requestsPerMinute - 1) / requestsPerMinute
	return &Limiter{
		key:          key,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		maxConc:      int64(maxConcurrent),
		reservoirCap: requestsPerMinute,
		remaining:    requestsPerMinute,
		resetAt:      time.Now().Add(time.Minute),
		spacing:      time.Duration(spacingMs) * time.Millisecond,
		ring:         make([]CompletionEvent, ringBufferSize),
	}
}

// Schedule starts fn once both the concurrency semaphore and the per-minute
// reservoir admit it, applying the minimum inter-start spacing in addition
// to the reservoir so a burst cannot exhaust the bucket instantaneously.
// The slot is released whether fn succeeds or fails; errors propagate
// unchanged.
func (l *Limiter) Schedule(ctx context.Context, modelID, scenarioID string, fn func(ctx context.Context) error) error {
	l.addQueued(1)
	defer l.addQueued(-1)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire concurrency slot for %s: %w", l.key, err)
	}
	defer l.sem.Release(1)

	waitStarted := time.Now()
	if err := l.admitReservoir(ctx); err != nil {
		return err
	}
	metrics.RateLimitWaitSeconds.WithLabelValues(l.key).Observe(time.Since(waitStarted).Seconds())

	l.addRunning(1)
	metrics.Inflight.WithLabelValues(l.key).Inc()
	started := time.Now()
	err := fn(ctx)
	duration := time.Since(started)
	metrics.Inflight.WithLabelValues(l.key).Dec()
	l.addRunning(-1)
	l.recordCompletion(CompletionEvent{
		ModelID:    modelID,
		ScenarioID: scenarioID,
		Success:    err == nil,
		StartedAt:  started,
		DurationMs: duration.Milliseconds(),
	})
	return err
}

// admitReservoir blocks until the per-minute bucket has a token and the
// minimum spacing since the last start has elapsed, consuming one token.
func (l *Limiter) admitReservoir(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if now.After(l.resetAt) || now.Equal(l.resetAt) {
			l.remaining = l.reservoirCap
			l.resetAt = now.Add(time.Minute)
		}

		wait := time.Duration(0)
		if now.Before(l.nextStartAt) {
			wait = l.nextStartAt.Sub(now)
		}
		if l.remaining <= 0 {
			untilReset := l.resetAt.Sub(now)
			if untilReset > wait {
				wait = untilReset
			}
		}

		if wait <= 0 {
			l.remaining--
			l.nextStartAt = now.Add(l.spacing)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for reservoir on %s: %w", l.key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Limiter) addQueued(delta int64) {
	l.mu.Lock()
	l.queued += delta
	l.mu.Unlock()
}

func (l *Limiter) addRunning(delta int64) {
	l.mu.Lock()
	l.running += delta
	l.mu.Unlock()
}

func (l *Limiter) recordCompletion(e CompletionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.ringPos] = e
	l.ringPos = (l.ringPos + 1) % ringBufferSize
	if l.ringPos == 0 {
		l.ringFilled = true
	}
	l.done++
}

// Counters returns a snapshot of live running/queued/done figures.
func (l *Limiter) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Counters{Running: l.running, Queued: l.queued, Done: l.done}
}

// RecentCompletions returns up to ringBufferSize most recent completion
// events, oldest first.
func (l *Limiter) RecentCompletions() []CompletionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ringFilled {
		out := make([]CompletionEvent, l.ringPos)
		copy(out, l.ring[:l.ringPos])
		return out
	}
	out := make([]CompletionEvent, ringBufferSize)
	copy(out, l.ring[l.ringPos:])
	copy(out[ringBufferSize-l.ringPos:], l.ring[:l.ringPos])
	return out
}
