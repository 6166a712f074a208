// Package store persists the evaluation pipeline's entities directly
// against Postgres via pgx, the way ent/schema documents them (no
// generated ent client is used at runtime — see DESIGN.md).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evalforge/evalcore/pkg/apperrors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Definition is the declarative test spec: preamble, template, and an
// ordered sequence of dimensions with labeled levels.
type Definition struct {
	ID        string
	Name      string
	Preamble  string
	Template  string
	Dims      []DimensionSpec
	CreatedAt time.Time
	DeletedAt *time.Time
}

// DimensionSpec is one labeled axis of variation in a Definition's template.
type DimensionSpec struct {
	Key    string   `json:"key"`
	Levels []string `json:"levels"`
}

// DefinitionStore persists Definition rows.
type DefinitionStore struct {
	pool *pgxpool.Pool
}

// NewDefinitionStore constructs a DefinitionStore over pool.
func NewDefinitionStore(pool *pgxpool.Pool) *DefinitionStore {
	return &DefinitionStore{pool: pool}
}

// Get loads a Definition by id, including soft-deleted ones — callers that
// must reject a soft-deleted parent check DeletedAt themselves (spec.md §3:
// a Scenario whose Definition is soft-deleted is treated as deleted).
func (s *DefinitionStore) Get(ctx context.Context, id string) (*Definition, error) {
	var d Definition
	var dimsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT definition_id, name, preamble, template, dimensions, created_at, deleted_at
		FROM definitions WHERE definition_id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Preamble, &d.Template, &dimsJSON, &d.CreatedAt, &d.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("definition %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load definition %s: %w", id, err)
	}
	if err := json.Unmarshal(dimsJSON, &d.Dims); err != nil {
		return nil, fmt.Errorf("decode definition %s dimensions: %w", id, err)
	}
	return &d, nil
}

// IsActive reports whether id refers to a non-soft-deleted Definition.
func (s *DefinitionStore) IsActive(ctx context.Context, id string) (bool, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return d.DeletedAt == nil, nil
}

// Snapshot captures the content needed to reproduce what a Run evaluated
// against, immune to later soft-deletes of the Definition.
func (d *Definition) Snapshot() DefinitionContent {
	return DefinitionContent{
		Name:     d.Name,
		Preamble: d.Preamble,
		Template: d.Template,
		Dims:     d.Dims,
	}
}

// DefinitionContent is the immutable snapshot stored on a Run and its
// Transcripts.
type DefinitionContent struct {
	Name     string          `json:"name"`
	Preamble string          `json:"preamble"`
	Template string          `json:"template"`
	Dims     []DimensionSpec `json:"dimensions"`
}
