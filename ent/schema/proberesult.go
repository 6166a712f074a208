package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProbeResult holds the schema for the terminal per-attempt record: it
// exists independent of the queue so the queue's retention policy cannot
// erase history (spec.md §3).
type ProbeResult struct {
	ent.Schema
}

// Fields of the ProbeResult.
func (ProbeResult) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("probe_result_id").
			Unique().
			Immutable(),
		field.String("run_id").Immutable(),
		field.String("scenario_id").Immutable(),
		field.String("model_id").Immutable(),
		field.Enum("outcome").
			Values("success", "failed").
			Immutable(),
		field.String("transcript_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("error_code").
			Optional().
			Nillable(),
		field.Text("error_message").
			Optional().
			Nillable(),
		field.Int("retry_count").Default(0),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ProbeResult.
func (ProbeResult) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "scenario_id", "model_id"),
	}
}
