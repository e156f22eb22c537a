package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/timechange/internal/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, models.Result{
		ID: "a", Job: models.JobTransform, Type: models.ResultSuccess,
		StartedAt: base, FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, j.Record(ctx, models.Result{
		ID: "b", Job: models.JobTrain, Type: models.ResultSuccess,
		History:   models.History{models.MetricAccuracy: {0.5, 0.9}, models.MetricLoss: {0.7, 0.2}},
		StartedAt: base.Add(2 * time.Second), FinishedAt: base.Add(10 * time.Second),
	}))
	require.NoError(t, j.Record(ctx, models.Result{
		ID: "c", Job: models.JobBuildModel, Type: models.ResultError, Message: "invalid neural net type",
		StartedAt: base.Add(11 * time.Second), FinishedAt: base.Add(12 * time.Second),
	}))

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "invalid neural net type", recent[0].Message)
	assert.Equal(t, "a", recent[2].ID)
	assert.WithinDuration(t, base.Add(time.Second), recent[2].FinishedAt, time.Millisecond)

	limited, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := j.Get(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float64{0.5, 0.9}, got.History[models.MetricAccuracy])

	last, err := j.LastTraining(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "b", last.ID)
}

func TestGetUnknown(t *testing.T) {
	j := openTestJournal(t)
	got, err := j.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	last, err := j.LastTraining(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRecordReplaces(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	now := time.Now()

	require.NoError(t, j.Record(ctx, models.Result{ID: "x", Job: models.JobTrain, Type: models.ResultError, Message: "first", StartedAt: now, FinishedAt: now}))
	require.NoError(t, j.Record(ctx, models.Result{ID: "x", Job: models.JobTrain, Type: models.ResultSuccess, StartedAt: now, FinishedAt: now}))

	got, err := j.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, got.Succeeded())
	assert.Empty(t, got.Message)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.sqlite")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), models.Result{ID: "p", Job: models.JobTransform, Type: models.ResultSuccess}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Get(context.Background(), "p")
	require.NoError(t, err)
	require.NotNil(t, got)
}
