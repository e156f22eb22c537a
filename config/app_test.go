package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
project:
  name: vibration
  parent: /data/projects
queue:
  mode: redis
  redis_addr: redis:6379
  process_timeout: 2h
worker:
  parallelism: 2
  seed: 42
storage:
  type: local
  dir: /data/exports
  retention: 72h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "vibration", cfg.Project.Name)
	assert.Equal(t, QueueModeRedis, cfg.Queue.Mode)
	assert.Equal(t, 2*time.Hour, cfg.Queue.ProcessTimeout)
	assert.Equal(t, 2, cfg.Worker.Parallelism)
	assert.Equal(t, int64(42), cfg.Worker.Seed)
	assert.True(t, cfg.Worker.Shuffle)
	assert.Equal(t, 72*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, "local", cfg.Classifier.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TIMECHANGE_PROJECT_NAME", "from-env")
	t.Setenv("TIMECHANGE_WORKER_PARALLELISM", "8")
	t.Setenv("TIMECHANGE_JOURNAL_ENABLED", "false")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  name: from-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Project.Name)
	assert.Equal(t, 8, cfg.Worker.Parallelism)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queue:\n  mode: kafka\n"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "queue.mode")

	t.Setenv("TIMECHANGE_REDIS_DB", "zero")
	_, err = Load("")
	assert.ErrorContains(t, err, "TIMECHANGE_REDIS_DB")
}

func TestObjectStoreKey(t *testing.T) {
	c := &ObjectStoreConfig{}
	assert.Equal(t, "p/weights/a.h5", c.Key("p/weights/a.h5"))

	c.KeyPrefix = trimPrefix("/exports/")
	assert.Equal(t, "exports/p/weights/a.h5", c.Key("p/weights/a.h5"))
	assert.Equal(t, "exports/p/weights/", c.Key("/p/weights/"))
}
