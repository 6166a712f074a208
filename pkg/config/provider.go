package config

// ProviderKind tags the vendor family behind a model, a tagged variant in
// place of duck-typed provider adapters.
type ProviderKind string

const (
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
	ProviderKindGoogle    ProviderKind = "google"
	ProviderKindAzure     ProviderKind = "azure"
	ProviderKindCustom    ProviderKind = "custom"
)

// ProviderConfig describes one LLM provider's rate-limit budget and the
// models it owns.
type ProviderConfig struct {
	Name                string        `yaml:"name" json:"name" validate:"required"`
	Kind                ProviderKind  `yaml:"kind" json:"kind" validate:"required"`
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	MaxParallelRequests int           `yaml:"max_parallel_requests" json:"maxParallelRequests" validate:"required,min=1"`
	RequestsPerMinute   int           `yaml:"requests_per_minute" json:"requestsPerMinute" validate:"required,min=1"`
	Models              []ModelConfig `yaml:"models" json:"models"`
}

// ModelConfig describes one model owned by a provider.
type ModelConfig struct {
	ID              string  `yaml:"id" json:"id" validate:"required"`
	APIName         string  `yaml:"api_name" json:"apiName" validate:"required"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k,omitempty" json:"inputCostPer1K,omitempty"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k,omitempty" json:"outputCostPer1K,omitempty"`
}

// ProviderRegistryConfig is the persisted settings-store shape the
// Provider Registry (pkg/provider) loads and TTL-caches.
type ProviderRegistryConfig struct {
	Providers             []ProviderConfig `yaml:"providers"`
	CacheTTLSeconds       int              `yaml:"cache_ttl_seconds"`
	SummarizeConcurrency  int              `yaml:"summarize_concurrency_override,omitempty"`
}

// DefaultProviderRegistryConfig returns the built-in defaults applied
// when the operator's config omits these fields.
func DefaultProviderRegistryConfig() *ProviderRegistryConfig {
	return &ProviderRegistryConfig{
		CacheTTLSeconds:      60,
		SummarizeConcurrency: 0,
	}
}
