package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetd/fleetd/internal/common/logger"
)

func TestEnvProviderTranslatesKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	p := NewEnvProvider()
	v, ok, err := p.Lookup(context.Background(), "anthropic_api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-env", v)

	_, ok, err = p.Lookup(context.Background(), "not_a_known_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileProviderReadsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"openai_api_key":"sk-file"}`), 0o600))

	p := NewFileProvider(path)
	v, ok, err := p.Lookup(context.Background(), "openai_api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-file", v)
}

func TestFileProviderMissingFileIsEmpty(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := p.Lookup(context.Background(), "github_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerFirstProviderWins(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gemini_api_key":"from-file"}`), 0o600))

	m := NewManager(logger.Default(), NewEnvProvider(), NewFileProvider(path))
	v, ok := m.Get(context.Background(), "gemini_api_key")
	assert.True(t, ok)
	assert.Equal(t, "from-env", v)
}

func TestManagerResolveCollectsAvailable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-a")
	t.Setenv("GITHUB_TOKEN", "gh-t")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	m := NewManager(logger.Default(), NewEnvProvider())
	creds := m.Resolve(context.Background())

	assert.Equal(t, map[string]string{
		"anthropic_api_key": "sk-a",
		"github_token":      "gh-t",
	}, creds)
}

func TestManagerCacheAndClear(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "first")

	m := NewManager(logger.Default(), NewEnvProvider())
	v, ok := m.Get(context.Background(), "github_token")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	t.Setenv("GITHUB_TOKEN", "rotated")
	v, _ = m.Get(context.Background(), "github_token")
	assert.Equal(t, "first", v, "cached until cleared")

	m.ClearCache()
	v, _ = m.Get(context.Background(), "github_token")
	assert.Equal(t, "rotated", v)
}
