package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one worker's state.
type WorkerHealth struct {
	ID              string
	Status          WorkerStatus
	JobsProcessed   int
	LastActivity    time.Time
}

// Worker polls one named queue and dispatches claimed batches to a
// Handler. Batch size enforces the primary concurrency floor for
// provider-scoped queues even before the in-process rate limiter engages
// (spec.md §4.3).
type Worker struct {
	id        string
	podID     string
	queueName string
	batchSize int
	store     *Store
	handler   Handler
	pollCfg   PollConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	jobsProcessed int
	lastActivity  time.Time

	// errLog throttles repeated poll-failure log lines so a persistent
	// database outage doesn't flood logs once per retry.
	errLog rate.Sometimes
}

// PollConfig is the subset of queue tunables a Worker needs.
type PollConfig struct {
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
}

// NewWorker constructs a Worker for one queue.
func NewWorker(id, podID, queueName string, batchSize int, store *Store, handler Handler, pollCfg PollConfig) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		queueName:    queueName,
		batchSize:    batchSize,
		store:        store,
		handler:      handler,
		pollCfg:      pollCfg,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
		errLog:       rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current batch to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns a snapshot of this worker's state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{ID: w.id, Status: w.status, JobsProcessed: w.jobsProcessed, LastActivity: w.lastActivity}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id, "queue", w.queueName)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				w.errLog.Do(func() { log.Error("poll failed", "error", err) })
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	jobs, err := w.store.ClaimBatch(ctx, w.queueName, w.batchSize, w.podID)
	if err != nil {
		return err
	}

	w.setStatus(WorkerStatusWorking)
	defer w.setStatus(WorkerStatusIdle)

	failed, batchErr := w.handler(ctx, jobs)
	if batchErr != nil {
		for _, j := range jobs {
			if rerr := w.store.Retry(ctx, j.ID, batchErr.Error()); rerr != nil {
				slog.Error("failed to reschedule job after batch error", "job_id", j.ID, "error", rerr)
			}
		}
		return nil
	}

	for _, j := range jobs {
		if jobErr, ok := failed[j.ID]; ok {
			if rerr := w.store.Retry(ctx, j.ID, jobErr.Error()); rerr != nil {
				slog.Error("failed to reschedule job", "job_id", j.ID, "error", rerr)
			}
			continue
		}
		if cerr := w.store.Complete(ctx, j.ID); cerr != nil {
			slog.Error("failed to mark job completed", "job_id", j.ID, "error", cerr)
		}
	}

	w.mu.Lock()
	w.jobsProcessed += len(jobs)
	w.mu.Unlock()
	return nil
}

func (w *Worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// pollInterval applies jitter to avoid thundering-herd polling.
func (w *Worker) pollInterval() time.Duration {
	base := w.pollCfg.PollInterval
	jitter := w.pollCfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
