package config

import (
	"fmt"
)

// Validator validates configuration comprehensively with clear error
// messages, one stage per component in dependency order.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates the configuration, stopping at the first error.
func (v *Validator) ValidateAll() error {
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	db := v.cfg.Database
	if db.URL == "" {
		return NewValidationError("database", "-", "url", fmt.Errorf("%w: must be set via config or DATABASE_URL", ErrMissingValue))
	}
	if db.MaxConns < db.MinConns {
		return NewValidationError("database", "-", "max_conns", fmt.Errorf("must be >= min_conns"))
	}
	return nil
}

func (v *Validator) validateProviders() error {
	seen := make(map[string]bool)
	seenModels := make(map[string]string)
	for _, p := range v.cfg.Providers.Providers {
		if p.Name == "" {
			return NewValidationError("provider", "-", "name", ErrMissingValue)
		}
		if seen[p.Name] {
			return NewValidationError("provider", p.Name, "name", fmt.Errorf("duplicate provider name"))
		}
		seen[p.Name] = true

		if p.MaxParallelRequests < 1 {
			return NewValidationError("provider", p.Name, "max_parallel_requests", fmt.Errorf("must be >= 1"))
		}
		if p.RequestsPerMinute < 1 {
			return NewValidationError("provider", p.Name, "requests_per_minute", fmt.Errorf("must be >= 1"))
		}
		for _, m := range p.Models {
			if m.ID == "" {
				return NewValidationError("model", "-", "id", ErrMissingValue)
			}
			if owner, exists := seenModels[m.ID]; exists {
				return NewValidationError("model", m.ID, "id", fmt.Errorf("already owned by provider %q", owner))
			}
			seenModels[m.ID] = p.Name
		}
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "-", "poll_interval", fmt.Errorf("must be positive"))
	}
	if q.DefaultRetryLimit < 0 {
		return NewValidationError("queue", "-", "default_retry_limit", fmt.Errorf("must be >= 0"))
	}
	if q.OrphanThreshold <= 0 {
		return NewValidationError("queue", "-", "orphan_threshold", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.SamplePercentage != 0 && (d.SamplePercentage < 1 || d.SamplePercentage > 100) {
		return NewValidationError("defaults", "-", "sample_percentage", fmt.Errorf("must be in [1,100]"))
	}
	switch d.Priority {
	case "", "LOW", "NORMAL", "HIGH":
	default:
		return NewValidationError("defaults", "-", "priority", fmt.Errorf("must be one of LOW, NORMAL, HIGH"))
	}
	return nil
}
