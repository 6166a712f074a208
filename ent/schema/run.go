package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Run holds the schema definition for the Run entity: one evaluation
// execution of a Definition against a chosen set of models.
type Run struct {
	ent.Schema
}

// Fields of the Run.
func (Run) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("definition_id").
			Immutable(),
		field.String("experiment_id").
			Optional().
			Nillable(),
		field.Enum("status").
			Values("pending", "running", "paused", "summarizing", "completed", "failed", "cancelled").
			Default("pending"),
		field.JSON("config", RunConfig{}).
			Immutable().
			Comment("Selected models, sample percentage/seed, priority, definition snapshot, cost estimate"),
		field.Int("progress_total").Default(0),
		field.Int("progress_completed").Default(0),
		field.Int("progress_failed").Default(0),
		field.Int("summarize_total").Default(0),
		field.Int("summarize_completed").Default(0),
		field.Int("summarize_failed").Default(0),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.Time("last_accessed_at").
			Optional().
			Nillable(),
		field.String("created_by").
			Optional().
			Nillable(),
		field.String("pod_id").
			Optional().
			Nillable().
			Comment("Which pod last touched this run, for multi-replica coordination"),
		field.Time("deleted_at").
			Optional().
			Nillable(),
	}
}

// Indexes of the Run.
func (Run) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("definition_id"),
	}
}

// RunConfig is the immutable configuration snapshot captured at startRun time.
type RunConfig struct {
	ModelIDs           []string          `json:"model_ids"`
	SamplePercentage   int               `json:"sample_percentage"`
	SampleSeed         *int64            `json:"sample_seed,omitempty"`
	Priority           string            `json:"priority"` // LOW | NORMAL | HIGH
	DefinitionSnapshot DefinitionContent `json:"definition_snapshot"`
	CostEstimate       float64           `json:"cost_estimate"`
}

// DefinitionContent is the immutable snapshot of a Definition's content at
// the moment a Run started, so later soft-deletes of the Definition cannot
// change what an in-flight Run is evaluating against.
type DefinitionContent struct {
	Name     string          `json:"name"`
	Preamble string          `json:"preamble"`
	Template string          `json:"template"`
	Dims     []DimensionSpec `json:"dimensions"`
}
