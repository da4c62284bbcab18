package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenURL)
	assert.Equal(t, "graph", cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 180*time.Second, cfg.LLMRequestTimeout())
	assert.Equal(t, 60*time.Minute, cfg.ConversationTTL())
	assert.Equal(t, 16, cfg.MaxAdditionalContext())
	assert.Equal(t, 120*time.Second, cfg.Substrate.InvocationTimeout())
	assert.Equal(t, 15*time.Second, cfg.Substrate.KeepAlive())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
listenUrl: ":9090"
transport: substrate
defaultModel: my-model
substrate:
  hubPath: /hub
  invocationTimeoutSeconds: 45
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenURL)
	assert.Equal(t, "substrate", cfg.Transport)
	assert.Equal(t, "my-model", cfg.DefaultModel)
	assert.Equal(t, "/hub", cfg.Substrate.HubPath)
	assert.Equal(t, 45*time.Second, cfg.Substrate.InvocationTimeout())
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("M365GW_LISTENURL", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenURL)
}

func TestLoad_InvalidFilePath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
