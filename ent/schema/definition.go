package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// Definition holds the schema definition for the Definition entity.
//
// A Definition is the declarative test spec: preamble, prompt template, and
// an ordered sequence of dimensions with labeled levels. Scenarios are
// derived from a Definition at fan-out time.
//
// NOTE: this package documents the data model the way tarsy's ent/schema
// package does, but EvalCore's runtime (pkg/store) talks to Postgres
// directly via pgx rather than through generated ent code — see DESIGN.md
// for why the generated client was not reproduced in this environment.
type Definition struct {
	ent.Schema
}

// Fields of the Definition.
func (Definition) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("definition_id").
			Unique().
			Immutable(),
		field.String("name"),
		field.Text("preamble").
			Optional(),
		field.Text("template"),
		field.JSON("dimensions", []DimensionSpec{}).
			Comment("Ordered sequence of dimensions with labeled levels"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Soft delete; a Scenario whose Definition is soft-deleted is treated as deleted"),
	}
}

// Edges of the Definition.
func (Definition) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("scenarios", Scenario.Type),
	}
}

// DimensionSpec is one labeled axis of variation in a Definition's template.
type DimensionSpec struct {
	Key    string   `json:"key"`
	Levels []string `json:"levels"`
}
