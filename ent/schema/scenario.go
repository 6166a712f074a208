package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// Scenario holds the schema definition for the Scenario entity: a concrete
// prompt derived from a Definition by fixing one level per dimension.
type Scenario struct {
	ent.Schema
}

// Fields of the Scenario.
func (Scenario) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("scenario_id").
			Unique().
			Immutable(),
		field.String("definition_id").
			Immutable(),
		field.Text("prompt"),
		field.JSON("dimension_values", map[string]string{}).
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("deleted_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Scenario.
func (Scenario) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("definition", Definition.Type).
			Ref("scenarios").
			Field("definition_id").
			Unique().
			Required().
			Immutable(),
	}
}
