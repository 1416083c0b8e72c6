package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// EnvProvider reads credentials from the runner's own environment,
// translating credential keys to their conventional variable names.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Lookup(ctx context.Context, key string) (string, bool, error) {
	envVar, ok := knownKeys[key]
	if !ok {
		return "", false, nil
	}
	v, ok := os.LookupEnv(envVar)
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// FileProvider reads credentials from a flat JSON file of
// {"anthropic_api_key": "sk-...", ...}. A missing file means no
// credentials, not an error.
type FileProvider struct {
	path   string
	values map[string]string
	mu     sync.Mutex
	loaded bool
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.values = map[string]string{}
			p.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}
	if err := json.Unmarshal(data, &p.values); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	p.loaded = true
	return nil
}

func (p *FileProvider) Lookup(ctx context.Context, key string) (string, bool, error) {
	if err := p.load(); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok && v != "", nil
}
