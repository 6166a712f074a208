package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AnalysisResult holds the schema for aggregate output per Run per
// analysis-type. Exactly one row per (Run, analysis-type) has status
// CURRENT; a new CURRENT supersedes the prior one.
type AnalysisResult struct {
	ent.Schema
}

// Fields of the AnalysisResult.
func (AnalysisResult) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("analysis_result_id").
			Unique().
			Immutable(),
		field.String("run_id").Immutable(),
		field.String("analysis_type").Immutable(),
		field.Enum("status").
			Values("current", "superseded"),
		field.String("input_hash").
			Comment("Cache-lookup key over the transcript set that produced this analysis"),
		field.JSON("payload", map[string]any{}),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the AnalysisResult.
func (AnalysisResult) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "analysis_type", "status"),
	}
}
