package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evalforge/evalcore/pkg/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsStore is the persisted source of truth behind the Provider
// Registry (spec.md §4.1) plus the small key-value settings surface
// (infra_model_<purpose>, summarization parallelism override — spec.md §6).
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore constructs a SettingsStore over pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// LoadProviders satisfies pkg/provider.SettingsStore. Disabled providers
// are included here and filtered by the registry, matching §4.1's "disabled
// providers are omitted" contract living in the registry, not the store.
func (s *SettingsStore) LoadProviders(ctx context.Context) ([]config.ProviderConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider_id, kind, enabled, max_parallel_requests, requests_per_minute, models
		FROM provider_settings ORDER BY provider_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load provider settings: %w", err)
	}
	defer rows.Close()

	var out []config.ProviderConfig
	for rows.Next() {
		var p config.ProviderConfig
		var kind string
		var modelsJSON []byte
		if err := rows.Scan(&p.Name, &kind, &p.Enabled, &p.MaxParallelRequests, &p.RequestsPerMinute, &modelsJSON); err != nil {
			return nil, fmt.Errorf("scan provider settings row: %w", err)
		}
		p.Kind = config.ProviderKind(kind)
		if len(modelsJSON) > 0 {
			if err := json.Unmarshal(modelsJSON, &p.Models); err != nil {
				return nil, fmt.Errorf("decode models for provider %s: %w", p.Name, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedFromConfig upserts providers loaded from YAML at startup, so the
// database is always the live source of truth even on a first boot with an
// empty provider_settings table.
func (s *SettingsStore) SeedFromConfig(ctx context.Context, providers []config.ProviderConfig) error {
	for _, p := range providers {
		modelsJSON, err := json.Marshal(p.Models)
		if err != nil {
			return fmt.Errorf("marshal models for provider %s: %w", p.Name, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO provider_settings (provider_id, kind, enabled, max_parallel_requests, requests_per_minute, models, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (provider_id) DO NOTHING
		`, p.Name, string(p.Kind), p.Enabled, p.MaxParallelRequests, p.RequestsPerMinute, modelsJSON)
		if err != nil {
			return fmt.Errorf("seed provider settings %s: %w", p.Name, err)
		}
	}
	return nil
}

// GetSummarizeConcurrencyOverride reads the summarization-parallelism
// override, returning 0 if unset.
func (s *SettingsStore) GetSummarizeConcurrencyOverride(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT (value->>'value')::int FROM settings WHERE key = 'summarize_concurrency_override'`).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("load summarize concurrency override: %w", err)
	}
	return n, nil
}

// SetSummarizeConcurrencyOverride persists the override; callers should
// follow with Manager.Reload or ClearSummarizeLimiters.
func (s *SettingsStore) SetSummarizeConcurrencyOverride(ctx context.Context, n int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ('summarize_concurrency_override', jsonb_build_object('value', $1::int), now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, n)
	if err != nil {
		return fmt.Errorf("set summarize concurrency override: %w", err)
	}
	return nil
}

// InfraModel is the (providerId, modelId) pair an infra_model_<purpose>
// setting resolves to.
type InfraModel struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
}

// GetInfraModel reads the infra_model_<purpose> setting, e.g. "summarize"
// for the default summary-producer model.
func (s *SettingsStore) GetInfraModel(ctx context.Context, purpose string) (*InfraModel, error) {
	var valueJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, "infra_model_"+purpose).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load infra model setting %s: %w", purpose, err)
	}
	var m InfraModel
	if err := json.Unmarshal(valueJSON, &m); err != nil {
		return nil, fmt.Errorf("decode infra model setting %s: %w", purpose, err)
	}
	return &m, nil
}
