// Package producer defines the external LLM worker contract: the
// transcript producer and summary producer, treated as black-box HTTP
// collaborators (spec.md §1, §6).
package producer

import "time"

// ProducerError is the structured error shape both producers return on
// failure, carrying the retryable flag the rate-limited handlers classify
// on (spec.md §9: "accept a structured error code from the producer when
// available").
type ProducerError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Details   string `json:"details,omitempty"`
}

// ScenarioInput is the scenario content a transcript producer needs.
type ScenarioInput struct {
	Preamble  string   `json:"preamble"`
	Prompt    string   `json:"prompt"`
	Followups []string `json:"followups,omitempty"`
}

// ProbeConfig mirrors the job payload's config sub-object.
type ProbeConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	MaxTurns    int     `json:"maxTurns,omitempty"`
}

// ModelCost is the optional per-token cost hint passed through to the
// producer for cost estimation.
type ModelCost struct {
	InputCostPer1K  float64 `json:"inputCostPer1K"`
	OutputCostPer1K float64 `json:"outputCostPer1K"`
}

// TranscriptInput is the transcript producer's request body.
type TranscriptInput struct {
	RunID      string        `json:"runId"`
	ScenarioID string        `json:"scenarioId"`
	ModelID    string        `json:"modelId"`
	Scenario   ScenarioInput `json:"scenario"`
	Config     ProbeConfig   `json:"config"`
	ModelCost  *ModelCost    `json:"modelCost,omitempty"`
}

// Turn is one message in a transcript's turn sequence.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranscriptContent is the successful transcript producer payload.
type TranscriptContent struct {
	Turns             []Turn    `json:"turns"`
	TotalInputTokens  int       `json:"totalInputTokens"`
	TotalOutputTokens int       `json:"totalOutputTokens"`
	StartedAt         time.Time `json:"startedAt"`
	CompletedAt       time.Time `json:"completedAt"`
}

// TranscriptOutput is the transcript producer's response envelope.
type TranscriptOutput struct {
	Success    bool                `json:"success"`
	Transcript *TranscriptContent  `json:"transcript,omitempty"`
	Error      *ProducerError      `json:"error,omitempty"`
}

// SummaryInput is the summary producer's request body.
type SummaryInput struct {
	TranscriptID      string             `json:"transcriptId"`
	ModelID           string             `json:"modelId"`
	TranscriptContent TranscriptContent  `json:"transcriptContent"`
}

// SummaryContent is the successful summary producer payload.
type SummaryContent struct {
	DecisionCode string `json:"decisionCode"`
	DecisionText string `json:"decisionText"`
}

// SummaryOutput is the summary producer's response envelope.
type SummaryOutput struct {
	Success bool            `json:"success"`
	Summary *SummaryContent `json:"summary,omitempty"`
	Error   *ProducerError  `json:"error,omitempty"`
}
