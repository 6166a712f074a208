package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PoolHealth summarizes the health of every worker in a Pool.
type PoolHealth struct {
	PodID            string
	TotalWorkers     int
	ActiveWorkers    int
	WorkerStats      []WorkerHealth
	LastOrphanScan   time.Time
	OrphansReleased  int
}

// Pool owns one Worker per registered queue (one per enabled provider's
// probe queue, plus the shared summarize queue) and runs orphan detection
// across all of them.
type Pool struct {
	podID   string
	store   *Store
	workers []*Worker

	orphanInterval  time.Duration
	orphanThreshold time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu              sync.Mutex
	lastOrphanScan  time.Time
	orphansReleased int
}

// NewPool constructs an empty Pool; call Register for each queue before Start.
func NewPool(podID string, store *Store, orphanInterval, orphanThreshold time.Duration) *Pool {
	return &Pool{
		podID:           podID,
		store:           store,
		orphanInterval:  orphanInterval,
		orphanThreshold: orphanThreshold,
		stopCh:          make(chan struct{}),
	}
}

// Register adds a worker for queueName with the given batch size — for
// probe queues, batchSize is the provider's maxParallelRequests, the
// concurrency floor described in spec.md §4.3.
func (p *Pool) Register(queueName string, batchSize int, handler Handler, pollCfg PollConfig) {
	id := fmt.Sprintf("%s-%s", p.podID, queueName)
	p.workers = append(p.workers, NewWorker(id, p.podID, queueName, batchSize, p.store, handler, pollCfg))
}

// Start spawns every registered worker plus the orphan-detection loop.
// Safe to call once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("pool already started, ignoring duplicate Start", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting queue pool", "pod_id", p.podID, "workers", len(p.workers))
	for _, w := range p.workers {
		w.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()
}

// Stop signals every worker to stop and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	slog.Info("stopping queue pool gracefully", "pod_id", p.podID)
	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("queue pool stopped", "pod_id", p.podID)
}

// Health returns a snapshot across every worker in the pool.
func (p *Pool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			active++
		}
	}

	p.mu.Lock()
	lastScan := p.lastOrphanScan
	released := p.orphansReleased
	p.mu.Unlock()

	return PoolHealth{
		PodID:           p.podID,
		TotalWorkers:    len(p.workers),
		ActiveWorkers:   active,
		WorkerStats:     stats,
		LastOrphanScan:  lastScan,
		OrphansReleased: released,
	}
}

func (p *Pool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.orphanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			released, err := p.store.ReleaseOrphaned(ctx, p.orphanThreshold)
			if err != nil {
				slog.Error("orphan release failed", "error", err)
				continue
			}
			if released > 0 {
				slog.Warn("released orphaned jobs", "count", released)
			}
			p.mu.Lock()
			p.lastOrphanScan = time.Now()
			p.orphansReleased += released
			p.mu.Unlock()
		}
	}
}
