package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 3, cfg.TreeDefaults.DepthLimit)
	require.Equal(t, 50, cfg.TreeDefaults.MaxNodes)
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inquest.yaml")
	yaml := `
server:
  port: 9999
store:
  driver: sqlite
  sqlite:
    path: /tmp/test.db
research:
  base_url: http://research:9200
  execute_rps: 5
tree_defaults:
  depth_limit: 4
  max_nodes: 80
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Store.Driver)
	require.Equal(t, "/tmp/test.db", cfg.Store.SQLite.Path)
	require.Equal(t, "http://research:9200", cfg.Research.BaseURL)
	require.Equal(t, 5.0, cfg.Research.ExecuteRPS)
	require.Equal(t, 4, cfg.TreeDefaults.DepthLimit)
	// Unset keys keep their defaults.
	require.Equal(t, 4, cfg.TreeDefaults.ParallelNodes)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PORT", "7070")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("REDIS_ADDR", "cache.internal:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, "db.internal", cfg.Store.Postgres.Host)
	require.True(t, cfg.Redis.Enabled, "setting REDIS_ADDR enables the cache")
	require.Equal(t, "cache.internal:6379", cfg.Redis.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "store.driver")
}

func TestLoadRejectsInvalidTreeDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inquest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tree_defaults:\n  depth_limit: 99\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "tree_defaults")
}
