package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/internal/models"
	"github.com/feichai0017/timechange/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Project.Parent = t.TempDir()
	cfg.Project.Name = "bearing"
	return cfg
}

func TestOpenProjectWithJournal(t *testing.T) {
	cfg := testConfig(t)
	p, err := OpenProject(cfg, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	require.NotNil(t, p.Journal)
	assert.FileExists(t, p.Store.Paths().Journal)
	assert.Equal(t, filepath.Join(cfg.Project.Parent, "bearing"), p.Store.Paths().Root)
}

func TestOpenProjectWithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false
	p, err := OpenProject(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p.Journal)
	assert.NoError(t, p.Close())
}

func TestNewWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "local"
	cfg.Storage.Dir = t.TempDir()

	p, err := OpenProject(cfg, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	pw, err := NewWorker(context.Background(), cfg, p, logger.NewNop())
	require.NoError(t, err)

	// no images yet, so build_model fails but still yields one result
	res := pw.Execute(context.Background(), models.Command{ID: "1", Job: models.JobBuildModel})
	assert.Equal(t, models.ResultError, res.Type)

	recorded, err := p.Journal.Get(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, models.JobBuildModel, recorded.Job)
}

func TestNewWorkerRejectsBadBackends(t *testing.T) {
	cfg := testConfig(t)
	p, err := OpenProject(cfg, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	cfg.Classifier.Backend = "tpu"
	_, err = NewWorker(context.Background(), cfg, p, logger.NewNop())
	assert.Error(t, err)

	cfg.Classifier.Backend = "local"
	cfg.Storage.Type = "ftp"
	_, err = NewWorker(context.Background(), cfg, p, logger.NewNop())
	assert.Error(t, err)
}

func TestQueueConfig(t *testing.T) {
	cfg := testConfig(t)
	qc := QueueConfig(cfg)
	assert.Equal(t, "localhost:6379", qc.RedisAddr)
	assert.Equal(t, "timechange:results", qc.ResultKey)
	assert.Equal(t, 24*time.Hour, qc.ProcessTimeout)

	cfg.Queue.ProcessTimeout = time.Minute
	assert.Equal(t, time.Minute, QueueConfig(cfg).ProcessTimeout)
}

func TestNewLoggerFromConfig(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "server.log")
	cfg.Log.OutputPaths = []string{path}

	log, err := NewLogger(cfg, "server")
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"server"`)
}
