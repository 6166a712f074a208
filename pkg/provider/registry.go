// Package provider implements the Provider Registry: a lazy, TTL-cached
// lookup from model-id to the provider that owns it and the rate-limit
// budget that provider was configured with.
package provider

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/evalforge/evalcore/pkg/config"
)

// DefaultTTL is the cache lifetime for the provider lookup table. Cache
// hits avoid re-reading the settings store on every probe dispatch.
const DefaultTTL = time.Minute

// cleanupInterval triggers lazy eviction of expired entries.
const cleanupInterval = 2 * time.Minute

// modelEntryPrefix is prepended to a model-id to form its cache key.
const modelEntryPrefix = "model:"

// Entry is what a successful lookup returns: the owning provider's name,
// kind, and rate-limit budget.
type Entry struct {
	ProviderName        string
	Kind                config.ProviderKind
	MaxParallelRequests int
	RequestsPerMinute   int
	APIName             string
	InputCostPer1K      float64
	OutputCostPer1K     float64
}

// SettingsStore is the persistence boundary the registry refreshes from.
// A real implementation reads the provider table; tests can supply a
// fake.
type SettingsStore interface {
	LoadProviders(ctx context.Context) ([]config.ProviderConfig, error)
}

// Registry is the TTL-cached model-id → provider lookup table.
type Registry struct {
	store SettingsStore
	ttl   time.Duration

	mu        sync.RWMutex
	cache     *cache.Cache
	lastKnown map[string]Entry
	loadedAt  time.Time
}

// New constructs a Registry backed by store, refreshing at most every ttl.
// ttl <= 0 uses DefaultTTL.
func New(store SettingsStore, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		store:     store,
		ttl:       ttl,
		cache:     cache.New(ttl, cleanupInterval),
		lastKnown: make(map[string]Entry),
	}
}

// Lookup resolves modelID to its owning provider. On a cache miss it
// refreshes from the settings store; if the store is unavailable it falls
// back to the last-known snapshot. An empty, never-populated registry
// returns ErrUnknownProvider so callers can route to a default queue.
func (r *Registry) Lookup(ctx context.Context, modelID string) (Entry, error) {
	if v, ok := r.cache.Get(modelEntryPrefix + modelID); ok {
		return v.(Entry), nil
	}

	if err := r.refresh(ctx); err != nil {
		r.mu.RLock()
		entry, ok := r.lastKnown[modelID]
		r.mu.RUnlock()
		if ok {
			return entry, nil
		}
		return Entry{}, ErrUnknownProvider
	}

	if v, ok := r.cache.Get(modelEntryPrefix + modelID); ok {
		return v.(Entry), nil
	}
	return Entry{}, ErrUnknownProvider
}

// ClearCache forces the next Lookup to refresh from the settings store,
// the entry point settings-change handlers call.
func (r *Registry) ClearCache() {
	r.cache.Flush()
	r.mu.Lock()
	r.loadedAt = time.Time{}
	r.mu.Unlock()
}

// refresh rebuilds the cache from the settings store. Disabled providers
// are omitted entirely, per spec.md §4.1.
func (r *Registry) refresh(ctx context.Context) error {
	providers, err := r.store.LoadProviders(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]Entry)
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		for _, m := range p.Models {
			fresh[m.ID] = Entry{
				ProviderName:        p.Name,
				Kind:                p.Kind,
				MaxParallelRequests: p.MaxParallelRequests,
				RequestsPerMinute:   p.RequestsPerMinute,
				APIName:             m.APIName,
				InputCostPer1K:      m.InputCostPer1K,
				OutputCostPer1K:     m.OutputCostPer1K,
			}
		}
	}

	r.mu.Lock()
	r.lastKnown = fresh
	r.loadedAt = time.Now()
	r.mu.Unlock()

	for modelID, entry := range fresh {
		r.cache.Set(modelEntryPrefix+modelID, entry, r.ttl)
	}
	return nil
}
