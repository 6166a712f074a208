package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence layer backing the durable queue. All methods
// issue SQL directly against the pool rather than through generated ent
// code (DESIGN.md records why).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Send assigns a stable job id and inserts a pending row. If opts carries
// a SingletonKey and any job with that key already exists, whatever its
// status, Send returns ErrSingletonConflict without inserting a duplicate;
// a key stays taken after its job completes or fails.
func (s *Store) Send(ctx context.Context, queueName string, payload []byte, opts EnqueueOptions) (string, error) {
	id := uuid.NewString()

	retryLimit := opts.RetryLimit
	if retryLimit == 0 {
		retryLimit = 3
	}
	backoffSeconds := int(opts.RetryBackoff.Seconds())
	if opts.RetryBackoff == 0 {
		backoffSeconds = 30
	}

	var singletonKey *string
	if opts.SingletonKey != "" {
		singletonKey = &opts.SingletonKey
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, queue_name, payload, priority, status, singleton_key,
		                   retry_limit, retry_backoff_seconds, run_after, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, now(), now())
		ON CONFLICT (singleton_key) WHERE singleton_key IS NOT NULL DO NOTHING
	`, id, queueName, payload, opts.Priority, singletonKey, retryLimit, backoffSeconds)
	if err != nil {
		return "", fmt.Errorf("enqueue job on %s: %w", queueName, err)
	}

	if singletonKey != nil {
		var existingID string
		err := s.pool.QueryRow(ctx, `SELECT job_id FROM jobs WHERE singleton_key = $1`, *singletonKey).Scan(&existingID)
		if err == nil && existingID != id {
			return existingID, ErrSingletonConflict
		}
	}

	return id, nil
}

// ClaimBatch atomically claims up to batchSize pending, due jobs from
// queueName using SELECT ... FOR UPDATE SKIP LOCKED, ordered FIFO by
// creation time within priority.
func (s *Store) ClaimBatch(ctx context.Context, queueName string, batchSize int, claimedBy string) ([]Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT job_id, queue_name, payload, priority, status, singleton_key,
		       retry_count, retry_limit, retry_backoff_seconds, run_after,
		       claimed_by, claimed_at, last_error, created_at
		FROM jobs
		WHERE queue_name = $1 AND status = 'pending' AND run_after <= now()
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, queueName, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query claimable jobs: %w", err)
	}

	jobs, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNoJobsAvailable
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = 'active', claimed_by = $1, claimed_at = $2
		WHERE job_id = ANY($3)
	`, claimedBy, now, ids)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	for i := range jobs {
		jobs[i].Status = StatusActive
		jobs[i].ClaimedBy = &claimedBy
		jobs[i].ClaimedAt = &now
	}
	return jobs, nil
}

// Complete marks a job permanently done.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'completed' WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// Retry marks a job for redelivery after an exponential backoff, or
// terminally fails it once retry_limit is exhausted.
func (s *Store) Retry(ctx context.Context, jobID string, lastErr string) error {
	var retryCount, retryLimit, backoffSeconds int
	err := s.pool.QueryRow(ctx, `
		SELECT retry_count, retry_limit, retry_backoff_seconds FROM jobs WHERE job_id = $1
	`, jobID).Scan(&retryCount, &retryLimit, &backoffSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("retry job %s: not found", jobID)
		}
		return fmt.Errorf("load job %s for retry: %w", jobID, err)
	}

	nextCount := retryCount + 1
	if nextCount > retryLimit {
		_, err := s.pool.Exec(ctx, `
			UPDATE jobs SET status = 'failed', retry_count = $1, last_error = $2, claimed_by = NULL, claimed_at = NULL
			WHERE job_id = $3
		`, nextCount, lastErr, jobID)
		if err != nil {
			return fmt.Errorf("terminally fail job %s: %w", jobID, err)
		}
		return nil
	}

	delay := backoffDelay(backoffSeconds, nextCount)
	_, err = s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', retry_count = $1, last_error = $2,
		                run_after = now() + $3::interval, claimed_by = NULL, claimed_at = NULL
		WHERE job_id = $4
	`, nextCount, lastErr, fmt.Sprintf("%d seconds", int(delay.Seconds())), jobID)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", jobID, err)
	}
	return nil
}

// backoffDelay grows exponentially with the retry attempt number, base * 2^(attempt-1).
func backoffDelay(baseSeconds, attempt int) time.Duration {
	delay := time.Duration(baseSeconds) * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// ReleaseOrphaned resets any job claimed longer than threshold ago back to
// pending so it is redelivered, returning the count released.
func (s *Store) ReleaseOrphaned(ctx context.Context, threshold time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE status = 'active' AND claimed_at < now() - $1::interval
	`, fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("release orphaned jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Counts reports pending/active/completed/failed counts for a queue, used
// for introspection (spec.md §4.7d).
type Counts struct {
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// CountByStatus returns the introspection counts for queueName.
func (s *Store) CountByStatus(ctx context.Context, queueName string) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM jobs WHERE queue_name = $1
	`, queueName).Scan(&c.Pending, &c.Active, &c.Completed, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs on %s: %w", queueName, err)
	}
	return c, nil
}

// ExistsPendingOrActiveWithPayloadField checks whether any pending/active
// job on queueName has payload->>field == value; used by the recovery
// scheduler to avoid re-enqueuing work already in flight.
func (s *Store) ExistsPendingOrActiveWithPayloadField(ctx context.Context, queueName, field, value string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE queue_name = $1 AND status IN ('pending', 'active')
			  AND payload ->> $2 = $3
		)
	`, queueName, field, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check in-flight job on %s: %w", queueName, err)
	}
	return exists, nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.QueueName, &j.Payload, &j.Priority, &j.Status, &j.SingletonKey,
			&j.RetryCount, &j.RetryLimit, &j.RetryBackoffSeconds, &j.RunAfter,
			&j.ClaimedBy, &j.ClaimedAt, &j.LastError, &j.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}
