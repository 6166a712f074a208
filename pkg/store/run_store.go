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

// RunConfig is the immutable configuration snapshot captured at startRun
// time.
type RunConfig struct {
	ModelIDs           []string          `json:"model_ids"`
	SamplePercentage   int               `json:"sample_percentage"`
	SampleSeed         *int64            `json:"sample_seed,omitempty"`
	Priority           string            `json:"priority"`
	DefinitionSnapshot DefinitionContent `json:"definition_snapshot"`
	CostEstimate       float64           `json:"cost_estimate"`
}

// Run is one evaluation execution of a Definition against a chosen set of
// models.
type Run struct {
	ID              string
	DefinitionID    string
	ExperimentID    *string
	Status          string
	Config          RunConfig
	Progress        Progress
	SummarizeProg   Progress
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastAccessedAt  time.Time
	CreatedBy       *string
	PodID           *string
	DeletedAt       *time.Time
}

// RunStore persists Run rows and their scenario selections, and implements
// the progress-mutator state machine of spec.md §4.6.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore constructs a RunStore over pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create writes a new PENDING Run and its scenario selections in one
// transaction.
func (s *RunStore) Create(ctx context.Context, run *Run, selectedScenarioIDs []string) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create-run transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (run_id, definition_id, experiment_id, status, config,
		                   progress_total, progress_completed, progress_failed,
		                   summarize_total, summarize_completed, summarize_failed,
		                   created_by, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, 0, 0, $7, now(), now())
	`, run.ID, run.DefinitionID, run.ExperimentID, RunStatusPending, configJSON,
		run.Progress.Total, run.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, scenarioID := range selectedScenarioIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO run_scenario_selections (run_id, scenario_id, sample_order)
			VALUES ($1, $2, $3)
		`, run.ID, scenarioID, i)
		if err != nil {
			return fmt.Errorf("insert run scenario selection %s/%s: %w", run.ID, scenarioID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create-run transaction: %w", err)
	}
	return nil
}

// Get loads a Run by id.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	return scanRunRow(s.pool.QueryRow(ctx, runSelectColumns+` WHERE run_id = $1`, id), id)
}

const runSelectColumns = `
	SELECT run_id, definition_id, experiment_id, status, config,
	       progress_total, progress_completed, progress_failed,
	       summarize_total, summarize_completed, summarize_failed,
	       created_by, pod_id, created_at, started_at, completed_at,
	       last_accessed_at, deleted_at
	FROM runs`

func scanRunRow(row pgx.Row, id string) (*Run, error) {
	var r Run
	var configJSON []byte
	err := row.Scan(&r.ID, &r.DefinitionID, &r.ExperimentID, &r.Status, &configJSON,
		&r.Progress.Total, &r.Progress.Completed, &r.Progress.Failed,
		&r.SummarizeProg.Total, &r.SummarizeProg.Completed, &r.SummarizeProg.Failed,
		&r.CreatedBy, &r.PodID, &r.CreatedAt, &r.StartedAt, &r.CompletedAt,
		&r.LastAccessedAt, &r.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if err := json.Unmarshal(configJSON, &r.Config); err != nil {
		return nil, fmt.Errorf("decode run %s config: %w", id, err)
	}
	return &r, nil
}

// ListNonTerminal returns every Run whose status admits further work, for
// the recovery scheduler.
func (s *RunStore) ListNonTerminal(ctx context.Context) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id FROM runs
		WHERE status NOT IN ('completed', 'failed', 'cancelled') AND deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan non-terminal run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate non-terminal runs: %w", err)
	}

	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// SelectedScenarioIDs returns the scenario ids selected for runID in
// sample order.
func (s *RunStore) SelectedScenarioIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scenario_id FROM run_scenario_selections WHERE run_id = $1 ORDER BY sample_order
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list scenario selections for run %s: %w", runID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scenario selection: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IncrementCompleted atomically increments progress.completed and derives
// the next status, setting startedAt on the PENDING→RUNNING edge. The
// returned transcript ids are non-empty only when this call is the one that
// closes the probe phase (RUNNING/PENDING → SUMMARIZING): every Transcript
// the run has accumulated so far, not just this probe's own, needs a
// summarize job enqueued immediately so the two phases overlap rather than
// waiting on the next reconciliation pass.
func (s *RunStore) IncrementCompleted(ctx context.Context, runID string) (*Run, []string, error) {
	return s.mutateProbeProgress(ctx, runID, func(p *Progress) { p.Completed++ })
}

// IncrementFailed atomically increments progress.failed and derives the
// next status. See IncrementCompleted for the returned transcript ids.
func (s *RunStore) IncrementFailed(ctx context.Context, runID string) (*Run, []string, error) {
	return s.mutateProbeProgress(ctx, runID, func(p *Progress) { p.Failed++ })
}

// IncrementSummarizeCompleted atomically increments summarize.completed,
// completing the run when the summarize phase closes.
func (s *RunStore) IncrementSummarizeCompleted(ctx context.Context, runID string) (*Run, error) {
	return s.mutateSummarizeProgress(ctx, runID, func(p *Progress) { p.Completed++ })
}

// IncrementSummarizeFailed atomically increments summarize.failed.
func (s *RunStore) IncrementSummarizeFailed(ctx context.Context, runID string) (*Run, error) {
	return s.mutateSummarizeProgress(ctx, runID, func(p *Progress) { p.Failed++ })
}

func (s *RunStore) mutateProbeProgress(ctx context.Context, runID string, apply func(*Progress)) (*Run, []string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin progress mutation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT status, progress_total, progress_completed, progress_failed
		FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID)

	var status string
	var progress Progress
	if err := row.Scan(&status, &progress.Total, &progress.Completed, &progress.Failed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("load run %s for progress mutation: %w", runID, err)
	}

	if isTerminal(status) {
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("commit no-op progress mutation: %w", err)
		}
		run, err := s.Get(ctx, runID)
		return run, nil, err
	}

	apply(&progress)
	newStatus := nextStatusAfterProbeProgress(status, progress)

	var startedAt *time.Time
	if status == RunStatusPending && newStatus != RunStatusPending {
		now := time.Now()
		startedAt = &now
	}

	var summarizeTotal *int
	var completedAt *time.Time
	var transcriptIDs []string
	if status != RunStatusSummarizing && newStatus == RunStatusSummarizing {
		ids, err := unsummarizedTranscriptIDsForRun(ctx, tx, runID)
		if err != nil {
			return nil, nil, err
		}
		n := len(ids)
		summarizeTotal = &n
		if n == 0 {
			// No transcripts were ever persisted (every probe failed
			// non-retryably): there is no summarize phase to enter, so the
			// probe phase closing out is itself the run's terminal event.
			newStatus = RunStatusCompleted
			now := time.Now()
			completedAt = &now
		} else {
			transcriptIDs = ids
		}
	}

	if err := applyProbeUpdate(ctx, tx, runID, progress, newStatus, startedAt, summarizeTotal, completedAt); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit progress mutation: %w", err)
	}
	run, err := s.Get(ctx, runID)
	return run, transcriptIDs, err
}

func (s *RunStore) mutateSummarizeProgress(ctx context.Context, runID string, apply func(*Progress)) (*Run, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin summarize progress mutation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT status, summarize_total, summarize_completed, summarize_failed
		FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID)

	var status string
	var summarize Progress
	if err := row.Scan(&status, &summarize.Total, &summarize.Completed, &summarize.Failed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load run %s for summarize progress mutation: %w", runID, err)
	}

	if isTerminal(status) {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit no-op summarize mutation: %w", err)
		}
		return s.Get(ctx, runID)
	}

	apply(&summarize)
	newStatus := nextStatusAfterSummarizeProgress(status, summarize)

	var completedAt *time.Time
	if newStatus == RunStatusCompleted && status != RunStatusCompleted {
		now := time.Now()
		completedAt = &now
	}

	_, err = tx.Exec(ctx, `
		UPDATE runs SET status = $1, summarize_completed = $2, summarize_failed = $3,
		                 completed_at = COALESCE($4, completed_at), last_accessed_at = now()
		WHERE run_id = $5
	`, newStatus, summarize.Completed, summarize.Failed, completedAt, runID)
	if err != nil {
		return nil, fmt.Errorf("apply summarize progress update for run %s: %w", runID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit summarize progress mutation: %w", err)
	}
	return s.Get(ctx, runID)
}

func applyProbeUpdate(ctx context.Context, tx pgx.Tx, runID string, progress Progress, newStatus string, startedAt *time.Time, summarizeTotal *int, completedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE runs SET status = $1, progress_completed = $2, progress_failed = $3,
		                 started_at = COALESCE($4, started_at),
		                 summarize_total = COALESCE($5, summarize_total),
		                 completed_at = COALESCE($6, completed_at),
		                 last_accessed_at = now()
		WHERE run_id = $7
	`, newStatus, progress.Completed, progress.Failed, startedAt, summarizeTotal, completedAt, runID)
	if err != nil {
		return fmt.Errorf("apply progress update for run %s: %w", runID, err)
	}
	return nil
}

// unsummarizedTranscriptIDsForRun lists, within the caller's transaction,
// every Transcript of runID still lacking summarizedAt. At the probe-phase
// edge this is every Transcript the run has, since summarization only
// starts once this edge fires.
func unsummarizedTranscriptIDsForRun(ctx context.Context, tx pgx.Tx, runID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT transcript_id FROM transcripts
		WHERE run_id = $1 AND deleted_at IS NULL AND summarized_at IS NULL
		ORDER BY created_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list unsummarized transcripts for run %s: %w", runID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unsummarized transcript id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Pause moves any non-terminal Run to PAUSED. Already-running LLM calls are
// not cancelled; probe handlers re-throw RUN_PAUSED on their next entry.
func (s *RunStore) Pause(ctx context.Context, runID string) error {
	return s.transitionIfNotTerminal(ctx, runID, RunStatusPaused)
}

// Resume moves a PAUSED Run back to RUNNING or SUMMARIZING depending on
// which phase it was in (derived from whether the probe phase is done).
func (s *RunStore) Resume(ctx context.Context, runID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resume transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	var progress Progress
	err = tx.QueryRow(ctx, `
		SELECT status, progress_total, progress_completed, progress_failed
		FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID).Scan(&status, &progress.Total, &progress.Completed, &progress.Failed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("load run %s for resume: %w", runID, err)
	}

	if status != RunStatusPaused {
		return apperrors.NewRunStateError(runID, status, RunStatusRunning)
	}

	next := RunStatusRunning
	if progress.Done() {
		next = RunStatusSummarizing
	}

	_, err = tx.Exec(ctx, `UPDATE runs SET status = $1, last_accessed_at = now() WHERE run_id = $2`, next, runID)
	if err != nil {
		return fmt.Errorf("resume run %s: %w", runID, err)
	}
	return tx.Commit(ctx)
}

// Cancel sets the terminal CANCELLED status regardless of current phase.
// The probe handler's terminal-state drop (spec.md §4.4 step 1) discards
// any remaining queued work.
func (s *RunStore) Cancel(ctx context.Context, runID string) error {
	return s.transitionIfNotTerminal(ctx, runID, RunStatusCancelled)
}

func (s *RunStore) transitionIfNotTerminal(ctx context.Context, runID, newStatus string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM runs WHERE run_id = $1 FOR UPDATE`, runID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("load run %s for transition: %w", runID, err)
	}

	if isTerminal(status) {
		return apperrors.NewRunStateError(runID, status, newStatus)
	}

	if _, err := tx.Exec(ctx, `UPDATE runs SET status = $1, last_accessed_at = now() WHERE run_id = $2`, newStatus, runID); err != nil {
		return fmt.Errorf("transition run %s to %s: %w", runID, newStatus, err)
	}
	return tx.Commit(ctx)
}
