package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/skillengine/config"
)

func TestLoadOrDefaultWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := config.LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoadParsesYAMLAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
store:
  driver: postgres
  postgres:
    url: postgres://localhost:5432/skillengine
    maxConns: 10
server:
  listenAddr: ":9090"
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost:5432/skillengine", cfg.Store.Postgres.URL)
	assert.Equal(t, int32(10), cfg.Store.Postgres.MaxConns)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Scheduler.Enabled, "scheduler.enabled keeps its default when the file doesn't set it")
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHashIsStableForEquivalentConfig(t *testing.T) {
	a, err := config.LoadOrDefault("")
	require.NoError(t, err)
	b, err := config.LoadOrDefault("")
	require.NoError(t, err)

	hashA, err := config.Hash(a)
	require.NoError(t, err)
	hashB, err := config.Hash(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}
