// Package credentials resolves the API keys executor backends need,
// without ever putting secret values in logs. Providers are consulted
// in registration order; the first hit wins.
package credentials

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/common/logger"
)

// Known credential keys and the environment variable each maps to on
// the host. Backend BuildEnv implementations select by key, so the set
// here is the full surface an agent can be granted.
var knownKeys = map[string]string{
	"anthropic_api_key": "ANTHROPIC_API_KEY",
	"openai_api_key":    "OPENAI_API_KEY",
	"gemini_api_key":    "GEMINI_API_KEY",
	"github_token":      "GITHUB_TOKEN",
}

// Provider is one source of secrets.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// Manager resolves credentials across providers with a small cache.
// Missing credentials are not errors here; a backend that needs an
// absent key simply builds an environment without it and the CLI
// reports the authentication failure.
type Manager struct {
	providers []Provider
	cache     map[string]string
	mu        sync.RWMutex
	log       *logger.Logger
}

func NewManager(log *logger.Logger, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		cache:     make(map[string]string),
		log:       log.WithFields(zap.String("component", "credentials")),
	}
}

// Get resolves a single credential key.
func (m *Manager) Get(ctx context.Context, key string) (string, bool) {
	m.mu.RLock()
	if v, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return v, true
	}
	m.mu.RUnlock()

	for _, p := range m.providers {
		v, ok, err := p.Lookup(ctx, key)
		if err != nil {
			m.log.Warn("credential provider lookup failed",
				zap.String("provider", p.Name()), zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			m.mu.Lock()
			m.cache[key] = v
			m.mu.Unlock()
			m.log.Debug("credential resolved",
				zap.String("key", key), zap.String("source", p.Name()))
			return v, true
		}
	}
	return "", false
}

// Resolve returns every known credential that any provider can supply.
// This is what the agent loop hands to Backend.BuildEnv.
func (m *Manager) Resolve(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for key := range knownKeys {
		if v, ok := m.Get(ctx, key); ok {
			out[key] = v
		}
	}
	return out
}

// ClearCache drops cached values so rotated secrets get picked up.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
}
