package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Job holds the schema for the durable queue row. EvalCore's "durable
// queue collaborator" (spec.md §4.7) is a Postgres table polled with
// SELECT ... FOR UPDATE SKIP LOCKED, the same mechanism tarsy uses for its
// AlertSession queue (pkg/queue/worker.go claimNextSession), generalized
// here into a reusable table so probe, summarize, and downstream analysis
// jobs can all share one claim/retry/backoff implementation.
type Job struct {
	ent.Schema
}

// Fields of the Job.
func (Job) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("job_id").
			Unique().
			Immutable(),
		field.String("queue_name").Immutable(),
		field.JSON("payload", map[string]any{}).Immutable(),
		field.Int("priority").
			Default(5).
			Comment("0 HIGH, 5 NORMAL, 10 LOW — lower sorts first"),
		field.Enum("status").
			Values("pending", "active", "completed", "failed").
			Default("pending"),
		field.String("singleton_key").
			Optional().
			Nillable().
			Comment("Deduplication key: at most one job per key, in any status"),
		field.Int("retry_count").Default(0),
		field.Int("retry_limit").Default(3),
		field.Int("retry_backoff_seconds").Default(30),
		field.Time("run_after").
			Default(time.Now).
			Comment("Job is not claimable before this time (backoff delay)"),
		field.String("claimed_by").
			Optional().
			Nillable().
			Comment("pod id of the worker currently processing this job"),
		field.Time("claimed_at").
			Optional().
			Nillable(),
		field.Text("last_error").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Job.
func (Job) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("queue_name", "status", "priority", "created_at"),
		index.Fields("singleton_key").Unique(),
	}
}
