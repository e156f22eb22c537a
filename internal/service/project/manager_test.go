package project

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/timechange/internal/classifier"
	"github.com/feichai0017/timechange/internal/journal"
	"github.com/feichai0017/timechange/internal/models"
	store "github.com/feichai0017/timechange/internal/project"
	"github.com/feichai0017/timechange/pkg/queue"
	"github.com/feichai0017/timechange/pkg/worker"
)

func newManager(t *testing.T, opts ...Option) (*Manager, *queue.MemoryBroker) {
	t.Helper()
	st, err := store.Open("demo", t.TempDir())
	require.NoError(t, err)
	broker := queue.NewMemoryBroker()
	return NewManager(st, broker, broker, nil, opts...), broker
}

func fileHeader(t *testing.T, name, content string) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func TestSubmitReturnsIDs(t *testing.T) {
	ctx := context.Background()
	m, broker := newManager(t)

	id1, err := m.ConvertAllCSV(ctx)
	require.NoError(t, err)
	id2, err := m.BuildModel(ctx)
	require.NoError(t, err)
	id3, err := m.Train(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 3, broker.Pending())

	for _, want := range []struct {
		id  string
		job models.JobType
	}{{id1, models.JobTransform}, {id2, models.JobBuildModel}, {id3, models.JobTrain}} {
		cmd, err := broker.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.id, cmd.ID)
		assert.Equal(t, want.job, cmd.Job)
	}

	_, err = m.Submit(ctx, models.JobShutdown)
	assert.ErrorIs(t, err, ErrUnknownJob)
	_, err = m.Submit(ctx, "dance")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestAddUploadAndColumns(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.AddUpload("sine", fileHeader(t, "a.csv", "t,x\n0,1\n")))
	assert.Equal(t, []string{"sine"}, m.CSVLabels())
	assert.Equal(t, []string{"a.csv"}, m.TrainingFiles("sine"))

	cols, err := m.Columns("sine", "a.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "x"}, cols)

	_, err = m.Columns("sine", "b.csv")
	assert.ErrorIs(t, err, store.ErrFileNotFound)

	err = m.AddUpload("sine", fileHeader(t, "notes.txt", "hello"))
	assert.ErrorIs(t, err, store.ErrInvalidName)
}

func TestAddUploadTooLarge(t *testing.T) {
	m, _ := newManager(t, WithConfig(&ManagerConfig{MaxFileSize: 4}))
	err := m.AddUpload("sine", fileHeader(t, "a.csv", strings.Repeat("1", 10)))
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, m.CSVLabels())
}

func TestHistoryWithoutJournal(t *testing.T) {
	m, _ := newManager(t)
	h, err := m.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, h)
	res, err := m.JobResult(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, res)
}

// TestRoundTripWithWorker drives the whole caller/worker protocol in process.
func TestRoundTripWithWorker(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	m, broker := newManager(t, WithJournal(j))
	require.NoError(t, m.SetTransformParameters(map[string]any{store.KeyChunkSize: 8, store.KeyFFTSize: 8}))
	require.NoError(t, m.AddUpload("flat", fileHeader(t, "a.csv", "x\n1\n1\n1\n1\n1\n1\n1\n1\n")))

	w := worker.NewProjectWorker(m.Store, classifier.NewLocalAdapter(nil), nil, worker.WithJournal(j))
	loop := worker.NewLoop(w, broker, broker)
	require.NoError(t, loop.Start(ctx))

	id, err := m.ConvertAllCSV(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := m.WaitResult(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, models.JobTransform, res.Job)
	assert.True(t, res.Succeeded(), res.Message)

	next, err := m.PollResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, m.Shutdown(ctx))
	select {
	case <-loop.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	recorded, err := m.JobResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.True(t, recorded.Succeeded())

	labels, err := m.ImageLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"flat"}, labels)
}
