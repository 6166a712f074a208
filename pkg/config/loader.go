package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the complete evalcore.yaml file structure.
type YAMLConfig struct {
	Database  *DatabaseConfig         `yaml:"database"`
	Redis     *RedisConfig            `yaml:"redis"`
	Providers *ProviderRegistryConfig `yaml:"providers"`
	Queue     *QueueConfig            `yaml:"queue"`
	Retention *RetentionConfig        `yaml:"retention"`
	Defaults  *Defaults               `yaml:"defaults"`
}

// Load reads evalcore.yaml from configPath, expands environment variables,
// merges it over the built-in defaults, and validates the result.
func Load(_ context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)
	log.Info("loading configuration")

	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(configPath, ErrConfigNotFound)
		}
		return nil, NewLoadError(configPath, err)
	}

	expanded := ExpandEnv(raw)

	var yc YAMLConfig
	if err := yaml.Unmarshal(expanded, &yc); err != nil {
		return nil, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg, err := build(filepath.Clean(configPath), &yc)
	if err != nil {
		return nil, err
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration loaded", "providers", stats.Providers)
	return cfg, nil
}

func build(configPath string, yc *YAMLConfig) (*Config, error) {
	providers := DefaultProviderRegistryConfig()
	if yc.Providers != nil {
		userList := yc.Providers.Providers
		yc.Providers.Providers = nil
		if err := mergo.Merge(providers, yc.Providers, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge provider config: %w", err)
		}
		providers.Providers = mergeProviders(nil, userList)
	}

	queue := DefaultQueueConfig()
	if yc.Queue != nil {
		if err := mergo.Merge(queue, yc.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if yc.Retention != nil {
		if err := mergo.Merge(retention, yc.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	defaults := DefaultDefaults()
	if yc.Defaults != nil {
		if err := mergo.Merge(defaults, yc.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults config: %w", err)
		}
	}

	db := yc.Database
	if db == nil {
		db = &DatabaseConfig{}
	}
	if db.MaxConns == 0 {
		db.MaxConns = 10
	}
	if db.MinConns == 0 {
		db.MinConns = 2
	}
	if db.URL == "" {
		db.URL = os.Getenv("DATABASE_URL")
	}

	redis := yc.Redis
	if redis == nil {
		redis = &RedisConfig{}
	}

	return &Config{
		configPath: configPath,
		Providers:  providers,
		Queue:      queue,
		Retention:  retention,
		Defaults:   defaults,
		Database:   db,
		Redis:      redis,
	}, nil
}
