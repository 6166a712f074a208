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

// Scenario is a concrete prompt derived from a Definition by fixing one
// level per dimension.
type Scenario struct {
	ID              string
	DefinitionID    string
	Prompt          string
	DimensionValues map[string]string
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

// ScenarioStore persists Scenario rows.
type ScenarioStore struct {
	pool *pgxpool.Pool
}

// NewScenarioStore constructs a ScenarioStore over pool.
func NewScenarioStore(pool *pgxpool.Pool) *ScenarioStore {
	return &ScenarioStore{pool: pool}
}

// Get loads a Scenario by id.
func (s *ScenarioStore) Get(ctx context.Context, id string) (*Scenario, error) {
	var sc Scenario
	var dimsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT scenario_id, definition_id, prompt, dimension_values, created_at, deleted_at
		FROM scenarios WHERE scenario_id = $1
	`, id).Scan(&sc.ID, &sc.DefinitionID, &sc.Prompt, &dimsJSON, &sc.CreatedAt, &sc.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scenario %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load scenario %s: %w", id, err)
	}
	if len(dimsJSON) > 0 {
		if err := json.Unmarshal(dimsJSON, &sc.DimensionValues); err != nil {
			return nil, fmt.Errorf("decode scenario %s dimension values: %w", id, err)
		}
	}
	return &sc, nil
}

// ListActiveByDefinition returns every non-soft-deleted Scenario belonging
// to definitionID, ordered by id for deterministic sampling input.
func (s *ScenarioStore) ListActiveByDefinition(ctx context.Context, definitionID string) ([]Scenario, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scenario_id, definition_id, prompt, dimension_values, created_at, deleted_at
		FROM scenarios
		WHERE definition_id = $1 AND deleted_at IS NULL
		ORDER BY scenario_id
	`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("list scenarios for definition %s: %w", definitionID, err)
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		var sc Scenario
		var dimsJSON []byte
		if err := rows.Scan(&sc.ID, &sc.DefinitionID, &sc.Prompt, &dimsJSON, &sc.CreatedAt, &sc.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan scenario row: %w", err)
		}
		if len(dimsJSON) > 0 {
			if err := json.Unmarshal(dimsJSON, &sc.DimensionValues); err != nil {
				return nil, fmt.Errorf("decode scenario %s dimension values: %w", sc.ID, err)
			}
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenario rows: %w", err)
	}
	return out, nil
}

// IsActive reports whether id refers to a Scenario that is itself not
// soft-deleted AND whose owning Definition is not soft-deleted.
func (s *ScenarioStore) IsActive(ctx context.Context, id string, definitions *DefinitionStore) (bool, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if sc.DeletedAt != nil {
		return false, nil
	}
	return definitions.IsActive(ctx, sc.DefinitionID)
}
