package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")
	log, err := NewLogger(
		WithInitialFields(map[string]interface{}{"service": "worker"}),
		FromConfig(Config{Level: "debug", OutputPaths: []string{path}}),
	)
	require.NoError(t, err)

	log.Named("worker").Debug("Job started", String("job_id", "42"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Job started"`)
	assert.Contains(t, string(data), `"job_id":"42"`)
	assert.Contains(t, string(data), `"service":"worker"`)
	assert.Contains(t, string(data), `"logger":"worker"`)
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"))
	assert.Error(t, err)
}

func TestFromConfigKeepsDefaults(t *testing.T) {
	cfg := Config{Level: "info", Encoding: "json", MaxSize: 100, InitialFields: map[string]interface{}{}}
	FromConfig(Config{Encoding: "console"})(&cfg)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, 100, cfg.MaxSize)
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()

	FromContext(context.Background(), tl).Info("plain")
	FromContext(ContextWithJob(context.Background(), "job-1"), tl).Info("tagged")

	entries := tl.GetEntries()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].Fields)
	require.Len(t, entries[1].Fields, 1)
	assert.Equal(t, "job_id", entries[1].Fields[0].Key)
	assert.Equal(t, "job-1", entries[1].Fields[0].String)
}

func TestTestLoggerSharesEntries(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("manager").Named("jobs").With(String("project", "p"))
	child.Warn("Queue is full")

	assert.True(t, tl.HasMessage("WARN", "Queue is full"))
	assert.False(t, tl.HasMessage("INFO", "Queue is full"))
	entries := tl.GetEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "manager.jobs", entries[0].Logger)

	tl.Clear()
	assert.Empty(t, tl.GetEntries())
}
