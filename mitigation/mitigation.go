// Package mitigation provides the fallback layer consulted whenever the
// breaker refuses to run an operation or the operation fails terminally.
package mitigation

import (
	"errors"
	"sync"
)

// ErrNoFallback is returned by Apply when neither a cached entry for the key
// nor a static fallback exists. A breaker with no fallback configured is a
// misconfiguration, so this is the one error the breaker surfaces to callers.
var ErrNoFallback = errors.New("mitigation: no fallback available")

// Mitigation holds per-key last-known-good results and one static fallback.
// Safe for concurrent use by multiple writers.
type Mitigation struct {
	cache sync.Map // key → last-known-good value

	mu          sync.RWMutex
	fallback    any
	hasFallback bool
}

// New creates an empty mitigation layer.
func New() *Mitigation {
	return &Mitigation{}
}

// WithFallback sets the static fallback and returns the mitigation.
func (m *Mitigation) WithFallback(v any) *Mitigation {
	m.SetFallback(v)
	return m
}

// Set caches a last-known-good value for key. A nil key is ignored.
func (m *Mitigation) Set(key, value any) {
	if key == nil {
		return
	}
	m.cache.Store(key, value)
}

// Delete removes the cached entry for key.
func (m *Mitigation) Delete(key any) {
	if key == nil {
		return
	}
	m.cache.Delete(key)
}

// SetFallback sets the static fallback value.
func (m *Mitigation) SetFallback(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = v
	m.hasFallback = true
}

// ClearFallback removes the static fallback.
func (m *Mitigation) ClearFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = nil
	m.hasFallback = false
}

// Apply resolves a degraded-mode answer: the cached entry for key if present,
// else the static fallback, else ErrNoFallback.
func (m *Mitigation) Apply(key any) (any, error) {
	if key != nil {
		if v, ok := m.cache.Load(key); ok {
			return v, nil
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.hasFallback {
		return m.fallback, nil
	}
	return nil, ErrNoFallback
}
