// Package config loads and validates EvalCore's YAML configuration: the
// provider table, queue/worker tunables, retention policy, and system
// defaults. Loading follows the teacher's layered pattern: parse built-in
// defaults, parse the operator-supplied file, merge with user values
// overriding, then validate the merged result.
package config

// Config is the umbrella object returned by Load, used throughout the
// application.
type Config struct {
	configPath string

	Providers *ProviderRegistryConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	Defaults  *Defaults
	Database  *DatabaseConfig
	Redis     *RedisConfig
}

// ConfigPath returns the file path this configuration was loaded from.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	Providers int
}

// Stats returns summary counts of the loaded configuration.
func (c *Config) Stats() Stats {
	return Stats{Providers: len(c.Providers.Providers)}
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
}

// RedisConfig holds best-effort pub/sub broadcast settings. Redis is not
// a source of truth; if unset, broadcast is a no-op.
type RedisConfig struct {
	Addr    string `yaml:"addr,omitempty"`
	Channel string `yaml:"channel,omitempty"`
}
