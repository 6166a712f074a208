package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	AnalysisStatusCurrent    = "current"
	AnalysisStatusSuperseded = "superseded"
)

// AnalysisResult is an aggregate output per Run per analysis-type.
type AnalysisResult struct {
	ID           string
	RunID        string
	AnalysisType string
	Status       string
	InputHash    string
	Payload      map[string]any
	CreatedAt    time.Time
}

// AnalysisStore persists AnalysisResult rows.
type AnalysisStore struct {
	pool *pgxpool.Pool
}

// NewAnalysisStore constructs an AnalysisStore over pool.
func NewAnalysisStore(pool *pgxpool.Pool) *AnalysisStore {
	return &AnalysisStore{pool: pool}
}

// PutCurrent inserts a new CURRENT AnalysisResult for (runID, analysisType),
// superseding whichever row previously held that status. Exactly one
// CURRENT row exists per (Run, analysis-type) afterward (spec.md §3).
func (s *AnalysisStore) PutCurrent(ctx context.Context, id, runID, analysisType, inputHash string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal analysis payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin analysis supersede transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE analysis_results SET status = $1
		WHERE run_id = $2 AND analysis_type = $3 AND status = $4
	`, AnalysisStatusSuperseded, runID, analysisType, AnalysisStatusCurrent)
	if err != nil {
		return fmt.Errorf("supersede prior analysis for run %s/%s: %w", runID, analysisType, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_results (analysis_result_id, run_id, analysis_type, status, input_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, id, runID, analysisType, AnalysisStatusCurrent, inputHash, payloadJSON)
	if err != nil {
		return fmt.Errorf("insert analysis result %s: %w", id, err)
	}

	return tx.Commit(ctx)
}

// GetCurrent returns the CURRENT AnalysisResult for (runID, analysisType),
// or nil if none exists yet.
func (s *AnalysisStore) GetCurrent(ctx context.Context, runID, analysisType string) (*AnalysisResult, error) {
	var a AnalysisResult
	var payloadJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT analysis_result_id, run_id, analysis_type, status, input_hash, payload, created_at
		FROM analysis_results WHERE run_id = $1 AND analysis_type = $2 AND status = $3
	`, runID, analysisType, AnalysisStatusCurrent).Scan(
		&a.ID, &a.RunID, &a.AnalysisType, &a.Status, &a.InputHash, &payloadJSON, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load current analysis for run %s/%s: %w", runID, analysisType, err)
	}
	if err := json.Unmarshal(payloadJSON, &a.Payload); err != nil {
		return nil, fmt.Errorf("decode analysis %s payload: %w", a.ID, err)
	}
	return &a, nil
}

// MatchesInputHash reports whether the CURRENT analysis for (runID,
// analysisType) already reflects inputHash, letting callers skip
// recomputation (spec.md §3: input hash for cache lookup).
func (s *AnalysisStore) MatchesInputHash(ctx context.Context, runID, analysisType, inputHash string) (bool, error) {
	current, err := s.GetCurrent(ctx, runID, analysisType)
	if err != nil {
		return false, err
	}
	return current != nil && current.InputHash == inputHash, nil
}
