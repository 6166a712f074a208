package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evalforge/evalcore/pkg/apperrors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Turn is one message in a transcript's turn sequence.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranscriptContent is the transcript producer's output payload.
type TranscriptContent struct {
	Turns             []Turn    `json:"turns"`
	TotalInputTokens  int       `json:"total_input_tokens"`
	TotalOutputTokens int       `json:"total_output_tokens"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

// Transcript is one (Run, Scenario, Model) attempt's output.
type Transcript struct {
	ID                    string
	RunID                 string
	ScenarioID            string
	ModelID               string
	ResolvedModelVersion  string
	Content               TranscriptContent
	DefinitionSnapshot    DefinitionContent
	DecisionCode          *string
	DecisionText          *string
	SummarizedAt          *time.Time
	CreatedAt             time.Time
	DeletedAt             *time.Time
}

// TranscriptStore persists Transcript rows.
type TranscriptStore struct {
	pool *pgxpool.Pool
}

// NewTranscriptStore constructs a TranscriptStore over pool.
func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{pool: pool}
}

// FindByAttempt looks up an existing Transcript for (runID, scenarioID,
// modelID), the idempotency anchor the probe handler uses to short-circuit
// a replayed success (spec.md §4.4).
func (s *TranscriptStore) FindByAttempt(ctx context.Context, runID, scenarioID, modelID string) (*Transcript, error) {
	row := s.pool.QueryRow(ctx, transcriptSelectColumns+`
		WHERE run_id = $1 AND scenario_id = $2 AND model_id = $3
	`, runID, scenarioID, modelID)
	return scanTranscriptRow(row, fmt.Sprintf("%s/%s/%s", runID, scenarioID, modelID))
}

// Get loads a Transcript by id.
func (s *TranscriptStore) Get(ctx context.Context, id string) (*Transcript, error) {
	row := s.pool.QueryRow(ctx, transcriptSelectColumns+` WHERE transcript_id = $1`, id)
	return scanTranscriptRow(row, id)
}

const transcriptSelectColumns = `
	SELECT transcript_id, run_id, scenario_id, model_id, resolved_model_version,
	       content, definition_snapshot, decision_code, decision_text,
	       summarized_at, created_at, deleted_at
	FROM transcripts`

func scanTranscriptRow(row pgx.Row, ref string) (*Transcript, error) {
	var t Transcript
	var contentJSON, snapshotJSON []byte
	err := row.Scan(&t.ID, &t.RunID, &t.ScenarioID, &t.ModelID, &t.ResolvedModelVersion,
		&contentJSON, &snapshotJSON, &t.DecisionCode, &t.DecisionText,
		&t.SummarizedAt, &t.CreatedAt, &t.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transcript %s: %w", ref, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load transcript %s: %w", ref, err)
	}
	if err := json.Unmarshal(contentJSON, &t.Content); err != nil {
		return nil, fmt.Errorf("decode transcript %s content: %w", ref, err)
	}
	if err := json.Unmarshal(snapshotJSON, &t.DefinitionSnapshot); err != nil {
		return nil, fmt.Errorf("decode transcript %s definition snapshot: %w", ref, err)
	}
	return &t, nil
}

// Create inserts a new Transcript. Callers must have already checked
// FindByAttempt to avoid violating the (run_id, scenario_id, model_id)
// uniqueness constraint on replay.
func (s *TranscriptStore) Create(ctx context.Context, t *Transcript) error {
	contentJSON, err := json.Marshal(t.Content)
	if err != nil {
		return fmt.Errorf("marshal transcript content: %w", err)
	}
	snapshotJSON, err := json.Marshal(t.DefinitionSnapshot)
	if err != nil {
		return fmt.Errorf("marshal transcript definition snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transcripts (transcript_id, run_id, scenario_id, model_id,
		                          resolved_model_version, content, definition_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (run_id, scenario_id, model_id) DO NOTHING
	`, t.ID, t.RunID, t.ScenarioID, t.ModelID, t.ResolvedModelVersion, contentJSON, snapshotJSON)
	if err != nil {
		return fmt.Errorf("insert transcript %s: %w", t.ID, err)
	}
	return nil
}

// RecordDecision sets the summarizer's output, marking the Transcript
// summarized. Mutated exactly once per transcript (spec.md §3).
func (s *TranscriptStore) RecordDecision(ctx context.Context, id, decisionCode, decisionText string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE transcripts SET decision_code = $1, decision_text = $2, summarized_at = now()
		WHERE transcript_id = $3 AND summarized_at IS NULL
	`, decisionCode, decisionText, id)
	if err != nil {
		return fmt.Errorf("record decision for transcript %s: %w", id, err)
	}
	return nil
}

// ListUnsummarized returns every non-soft-deleted Transcript of runID
// lacking summarizedAt, used by the recovery scheduler.
func (s *TranscriptStore) ListUnsummarized(ctx context.Context, runID string) ([]Transcript, error) {
	rows, err := s.pool.Query(ctx, transcriptSelectColumns+`
		WHERE run_id = $1 AND summarized_at IS NULL AND deleted_at IS NULL
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list unsummarized transcripts for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		t, err := scanTranscriptRowsNext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTranscriptRowsNext(rows pgx.Rows) (*Transcript, error) {
	var t Transcript
	var contentJSON, snapshotJSON []byte
	if err := rows.Scan(&t.ID, &t.RunID, &t.ScenarioID, &t.ModelID, &t.ResolvedModelVersion,
		&contentJSON, &snapshotJSON, &t.DecisionCode, &t.DecisionText,
		&t.SummarizedAt, &t.CreatedAt, &t.DeletedAt); err != nil {
		return nil, fmt.Errorf("scan transcript row: %w", err)
	}
	if err := json.Unmarshal(contentJSON, &t.Content); err != nil {
		return nil, fmt.Errorf("decode transcript %s content: %w", t.ID, err)
	}
	if err := json.Unmarshal(snapshotJSON, &t.DefinitionSnapshot); err != nil {
		return nil, fmt.Errorf("decode transcript %s definition snapshot: %w", t.ID, err)
	}
	return &t, nil
}

// CountByRun returns the total number of non-soft-deleted Transcripts for
// runID, used to set summarize.total at the RUNNING→SUMMARIZING edge.
func (s *TranscriptStore) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transcripts WHERE run_id = $1 AND deleted_at IS NULL`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transcripts for run %s: %w", runID, err)
	}
	return n, nil
}
