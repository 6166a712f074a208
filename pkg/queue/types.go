// Package queue implements the durable job queue: a Postgres table polled
// with SELECT ... FOR UPDATE SKIP LOCKED, generalizing the teacher's
// AlertSession-as-queue pattern into named queues with priority,
// retry-with-backoff, and singleton keys (spec.md §4.7).
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates a poll found nothing claimable.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrSingletonConflict indicates an enqueue was skipped because a job
	// with the same singleton key already exists, in any status.
	ErrSingletonConflict = errors.New("singleton job already pending")
)

// Priority levels, matching the JSON wire contract (spec.md §6).
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 10
)

// Job type names used to route and handle payloads.
const (
	JobTypeProbeScenario    = "probe_scenario"
	JobTypeSummarizeTranscript = "summarize_transcript"
	JobTypeComputeTokenStats   = "compute_token_stats"
	JobTypeAnalyzeBasic        = "analyze_basic"
)

// Status values a Job row can hold.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one durable queue row.
type Job struct {
	ID                  string
	QueueName           string
	Payload             []byte
	Priority            int
	Status              string
	SingletonKey        *string
	RetryCount          int
	RetryLimit          int
	RetryBackoffSeconds int
	RunAfter            time.Time
	ClaimedBy           *string
	ClaimedAt           *time.Time
	LastError           *string
	CreatedAt           time.Time
}

// EnqueueOptions configures a single Send call.
type EnqueueOptions struct {
	Priority     int
	RetryLimit   int
	RetryBackoff time.Duration
	SingletonKey string
}

// Handler processes a batch of claimed jobs. The returned map holds one
// entry per job that failed and should be retried, keyed by job id; jobs
// absent from the map are treated as succeeded. A non-nil batchErr marks
// every job in the batch for retry regardless of the map, for failures
// that precede per-job processing entirely (spec.md §4.7c allows either
// granularity).
type Handler func(ctx context.Context, jobs []Job) (failed map[string]error, batchErr error)

// ProbeConfig is the config sub-object of a probe_scenario payload.
type ProbeConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTurns    int     `json:"maxTurns,omitempty"`
}

// ProbeScenarioPayload is the payload of a probe_<provider> job.
type ProbeScenarioPayload struct {
	RunID      string      `json:"runId"`
	ScenarioID string      `json:"scenarioId"`
	ModelID    string      `json:"modelId"`
	Config     ProbeConfig `json:"config"`
}

// SummarizeTranscriptPayload is the payload of a summarize_transcript job.
type SummarizeTranscriptPayload struct {
	RunID          string  `json:"runId"`
	TranscriptID   string  `json:"transcriptId"`
	SummaryModelID *string `json:"summaryModelId,omitempty"`
}

// ComputeTokenStatsPayload is the payload of a compute_token_stats job.
type ComputeTokenStatsPayload struct {
	RunID string `json:"runId"`
}

// AnalyzeBasicPayload is the payload of an analyze_basic job.
type AnalyzeBasicPayload struct {
	RunID         string   `json:"runId"`
	TranscriptIDs []string `json:"transcriptIds"`
	Force         bool     `json:"force,omitempty"`
}
