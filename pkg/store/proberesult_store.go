package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProbeResult is the terminal per-attempt record: SUCCESS (references a
// Transcript) or FAILED (errorCode, errorMessage, retryCount). Exists
// independent of the queue so the queue's retention policy cannot erase
// history (spec.md §3).
type ProbeResult struct {
	ID           string
	RunID        string
	ScenarioID   string
	ModelID      string
	Outcome      string
	TranscriptID *string
	ErrorCode    *string
	ErrorMessage *string
	RetryCount   int
	CreatedAt    time.Time
}

const (
	ProbeOutcomeSuccess = "success"
	ProbeOutcomeFailed  = "failed"
)

// ProbeResultStore persists ProbeResult rows.
type ProbeResultStore struct {
	pool *pgxpool.Pool
}

// NewProbeResultStore constructs a ProbeResultStore over pool.
func NewProbeResultStore(pool *pgxpool.Pool) *ProbeResultStore {
	return &ProbeResultStore{pool: pool}
}

// RecordSuccess appends a SUCCESS ProbeResult referencing transcriptID.
func (s *ProbeResultStore) RecordSuccess(ctx context.Context, id, runID, scenarioID, modelID, transcriptID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO probe_results (probe_result_id, run_id, scenario_id, model_id, outcome, transcript_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, id, runID, scenarioID, modelID, ProbeOutcomeSuccess, transcriptID)
	if err != nil {
		return fmt.Errorf("record probe success %s: %w", id, err)
	}
	return nil
}

// RecordFailure appends a FAILED ProbeResult.
func (s *ProbeResultStore) RecordFailure(ctx context.Context, id, runID, scenarioID, modelID, errorCode, errorMessage string, retryCount int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO probe_results (probe_result_id, run_id, scenario_id, model_id, outcome, error_code, error_message, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, id, runID, scenarioID, modelID, ProbeOutcomeFailed, errorCode, errorMessage, retryCount)
	if err != nil {
		return fmt.Errorf("record probe failure %s: %w", id, err)
	}
	return nil
}

// HasTerminalResult reports whether (runID, scenarioID, modelID) already
// has any ProbeResult (success or failure), used by the recovery scheduler
// to avoid re-enqueuing completed work.
func (s *ProbeResultStore) HasTerminalResult(ctx context.Context, runID, scenarioID, modelID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM probe_results WHERE run_id = $1 AND scenario_id = $2 AND model_id = $3)
	`, runID, scenarioID, modelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check probe result for %s/%s/%s: %w", runID, scenarioID, modelID, err)
	}
	return exists, nil
}

// ListTerminalAttempts returns the set of (scenarioID, modelID) pairs that
// already have a ProbeResult for runID, as a lookup set for the recovery
// scheduler.
func (s *ProbeResultStore) ListTerminalAttempts(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT scenario_id, model_id FROM probe_results WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("list probe results for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var scenarioID, modelID string
		if err := rows.Scan(&scenarioID, &modelID); err != nil {
			return nil, fmt.Errorf("scan probe result attempt: %w", err)
		}
		out[scenarioID+"/"+modelID] = true
	}
	return out, rows.Err()
}
