package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Transcript holds the schema for the Transcript entity: one
// (Run, Scenario, Model) attempt's output, mutated exactly once by the
// summarize handler.
type Transcript struct {
	ent.Schema
}

// Fields of the Transcript.
func (Transcript) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("transcript_id").
			Unique().
			Immutable(),
		field.String("run_id").Immutable(),
		field.String("scenario_id").Immutable(),
		field.String("model_id").Immutable(),
		field.String("resolved_model_version").Immutable(),
		field.JSON("content", TranscriptContent{}).
			Immutable().
			Comment("Turn sequence, token counts, timing"),
		field.JSON("definition_snapshot", DefinitionContent{}).
			Immutable(),
		field.String("decision_code").
			Optional().
			Nillable(),
		field.Text("decision_text").
			Optional().
			Nillable(),
		field.Time("summarized_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("deleted_at").
			Optional().
			Nillable(),
	}
}

// Indexes of the Transcript — the uniqueness anchor the probe handler relies
// on to short-circuit a replayed success (spec.md §4.4).
func (Transcript) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "scenario_id", "model_id").Unique(),
	}
}

// TranscriptContent is the transcript producer's output payload.
type TranscriptContent struct {
	Turns             []Turn    `json:"turns"`
	TotalInputTokens  int       `json:"total_input_tokens"`
	TotalOutputTokens int       `json:"total_output_tokens"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

// Turn is one message in a transcript's turn sequence.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
