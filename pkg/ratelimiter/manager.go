package ratelimiter

import (
	"fmt"
	"sync"

	"github.com/evalforge/evalcore/pkg/config"
)

// summarizeSuffix keys the separate limiter instance used for summarize
// traffic so it does not deplete a shared reservoir with probe traffic
// (spec.md §4.2).
const summarizeSuffix = ":summarize"

// Manager owns one Limiter per provider, plus a second per-provider
// instance for summarize traffic when a concurrency override is active.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager builds a Manager with no limiters loaded; call Reload to
// populate it from a provider registry config.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// Reload disconnects existing limiters — in-flight work drains naturally
// since the semaphore/reservoir they reference are simply dropped, and any
// work still queued on the durable queue will be redelivered — and rebuilds
// from the given provider configs.
func (m *Manager) Reload(providers []config.ProviderConfig, summarizeConcurrencyOverride int) {
	next := make(map[string]*Limiter, len(providers)*2)
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		next[p.Name] = New(p.Name, p.MaxParallelRequests, p.RequestsPerMinute)

		if summarizeConcurrencyOverride > 0 {
			conc := p.MaxParallelRequests
			if summarizeConcurrencyOverride > conc {
				conc = summarizeConcurrencyOverride
			}
			next[p.Name+summarizeSuffix] = New(p.Name+summarizeSuffix, conc, p.RequestsPerMinute)
		}
	}

	m.mu.Lock()
	m.limiters = next
	m.mu.Unlock()
}

// ClearSummarizeLimiters drops only the "<provider>:summarize" instances,
// the narrower reload used when just the summarization-parallelism knob
// changes.
func (m *Manager) ClearSummarizeLimiters() {
	m.mu.Lock()
	for key := range m.limiters {
		if hasSummarizeSuffix(key) {
			delete(m.limiters, key)
		}
	}
	m.mu.Unlock()
}

func hasSummarizeSuffix(key string) bool {
	if len(key) < len(summarizeSuffix) {
		return false
	}
	return key[len(key)-len(summarizeSuffix):] == summarizeSuffix
}

// ForProbe returns the plain per-provider Limiter.
func (m *Manager) ForProbe(provider string) (*Limiter, error) {
	return m.lookup(provider)
}

// ForSummarize returns the "<provider>:summarize" Limiter if a concurrency
// override is configured, falling back to the plain provider Limiter
// otherwise.
func (m *Manager) ForSummarize(provider string) (*Limiter, error) {
	m.mu.RLock()
	l, ok := m.limiters[provider+summarizeSuffix]
	m.mu.RUnlock()
	if ok {
		return l, nil
	}
	return m.lookup(provider)
}

func (m *Manager) lookup(key string) (*Limiter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[key]
	if !ok {
		return nil, fmt.Errorf("no rate limiter configured for provider %q", key)
	}
	return l, nil
}

// Snapshot returns live counters for every loaded limiter, keyed by the
// same key used to build it (provider name, or "provider:summarize").
func (m *Manager) Snapshot() map[string]Counters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Counters, len(m.limiters))
	for key, l := range m.limiters {
		out[key] = l.Counters()
	}
	return out
}
