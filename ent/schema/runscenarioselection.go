package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RunScenarioSelection holds the schema for the bag linking a Run to its
// sampled set of Scenario identifiers — one row per selected Scenario.
type RunScenarioSelection struct {
	ent.Schema
}

// Fields of the RunScenarioSelection.
func (RunScenarioSelection) Fields() []ent.Field {
	return []ent.Field{
		field.String("run_id").Immutable(),
		field.String("scenario_id").Immutable(),
		field.Int("sample_order").
			Comment("Position in the deterministic sampled ordering"),
	}
}

// Indexes of the RunScenarioSelection.
func (RunScenarioSelection) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "scenario_id").Unique(),
	}
}
