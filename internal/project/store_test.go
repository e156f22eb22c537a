package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/timechange/pkg/logger"
)

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestOpenCreatesSkeleton(t *testing.T) {
	parent := t.TempDir()

	s, err := Open("demo", parent)
	require.NoError(t, err)

	p := s.Paths()
	assert.Equal(t, filepath.Join(parent, "demo"), p.Root)
	for _, dir := range []string{p.CSV, p.Images, p.Models} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	body, err := os.ReadFile(p.Parameters)
	require.NoError(t, err)
	assert.Contains(t, string(body), "[DEFAULT]")
	assert.Contains(t, string(body), "[convolutional_basic]")

	tp, err := s.TransformParameters()
	require.NoError(t, err)
	assert.Equal(t, DefaultTransformParameters(), tp)

	mp, err := s.ModelParameters()
	require.NoError(t, err)
	assert.Equal(t, DefaultModelParameters(), mp)
}

func TestOpenExistingProject(t *testing.T) {
	parent := t.TempDir()
	s, err := Open("demo", parent)
	require.NoError(t, err)
	src := writeFile(t, filepath.Join(t.TempDir(), "a.csv"), "x\n1\n")
	require.NoError(t, s.AddTrainingFile("sine", src))
	require.NoError(t, os.Remove(s.Paths().Transform))

	reopened, err := Open("demo", parent)
	require.NoError(t, err)
	assert.Equal(t, []string{"sine"}, reopened.CSVLabels())
	assert.Equal(t, []string{"a.csv"}, reopened.TrainingFiles("sine"))
	assert.FileExists(t, reopened.Paths().Transform)
}

func TestOpenRejectsCorruptProject(t *testing.T) {
	parent := t.TempDir()
	_, err := Open("demo", parent)
	require.NoError(t, err)
	writeFile(t, filepath.Join(parent, "demo", "images", "notes.txt"), "hello")

	log := logger.NewTestLogger()
	s, err := Open("demo", parent, WithLogger(log))
	assert.Nil(t, s)
	require.ErrorIs(t, err, ErrCorruptProject)
	assert.Contains(t, err.Error(), "notes.txt")
}

func TestOpenRejectsMissingParameters(t *testing.T) {
	parent := t.TempDir()
	s, err := Open("demo", parent)
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.Paths().Parameters))

	_, err = Open("demo", parent)
	assert.ErrorIs(t, err, ErrCorruptProject)
}

func TestAddTrainingFile(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)

	src := writeFile(t, filepath.Join(t.TempDir(), "a.csv"), "x\n1\n")
	require.NoError(t, s.AddTrainingFile("sine", src))
	assert.Contains(t, s.CSVLabels(), "sine")
	assert.FileExists(t, filepath.Join(s.Paths().CSV, "sine", "a.csv"))

	// same basename: last write wins
	other := writeFile(t, filepath.Join(t.TempDir(), "a.csv"), "x\n2\n")
	require.NoError(t, s.AddTrainingFile("sine", other))
	body, err := os.ReadFile(filepath.Join(s.Paths().CSV, "sine", "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x\n2\n", string(body))
	assert.Equal(t, []string{"a.csv"}, s.TrainingFiles("sine"))
}

func TestAddTrainingFileRejects(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.AddTrainingFile("sine", filepath.Join(t.TempDir(), "missing.csv")))

	txt := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "x\n1\n")
	assert.Error(t, s.AddTrainingFile("sine", txt))

	err = s.AddTrainingData("../escape", "a.csv", strings.NewReader("x\n1\n"))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRemoveTrainingFile(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.AddTrainingData("sine", "a.csv", strings.NewReader("x\n1\n")))

	require.NoError(t, s.RemoveTrainingFile("sine", "a.csv"))
	assert.Empty(t, s.TrainingFiles("sine"))
	// the label survives its last file
	assert.DirExists(t, filepath.Join(s.Paths().CSV, "sine"))
	assert.Equal(t, []string{"sine"}, s.CSVLabels())

	err = s.RemoveTrainingFile("sine", "a.csv")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLabelsAreSorted(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)
	for _, label := range []string{"square", "sawtooth", "sine"} {
		require.NoError(t, s.AddTrainingData(label, "a.csv", strings.NewReader("x\n1\n")))
		require.NoError(t, os.MkdirAll(filepath.Join(s.Paths().Images, label), 0755))
	}

	assert.Equal(t, []string{"sawtooth", "sine", "square"}, s.CSVLabels())
	images, err := s.ImageLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"sawtooth", "sine", "square"}, images)
}

func TestCSVColumns(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)
	path := writeFile(t, filepath.Join(t.TempDir(), "a.csv"), "t,x,y\n1,2,3\n")

	cols, err := s.CSVColumns(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "x", "y"}, cols)
}

func TestSetTransformParameters(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SetColumns([]string{"x", "y"}))
	require.NoError(t, s.SetTransformParameters(map[string]any{
		KeyChunkSize: 32,
		KeyFFTSize:   "64",
		KeyMethod:    "spectrogram",
	}))

	tp, err := s.TransformParameters()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, tp.Columns)
	assert.Equal(t, 32, tp.ChunkSize)
	assert.Equal(t, 64, tp.FFTSize)
	assert.Equal(t, "spectrogram", tp.Method)

	assert.Error(t, s.SetTransformParameters(map[string]any{KeyMethod: "wavelet"}))
	assert.Error(t, s.SetTransformParameters(map[string]any{KeyChunkSize: 0}))

	require.NoError(t, s.SetColumns(nil))
	tp, err = s.TransformParameters()
	require.NoError(t, err)
	assert.Empty(t, tp.Columns)
}

func TestSetModelParameters(t *testing.T) {
	s, err := Open("demo", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SetModelParameters(map[string]any{
		KeyModelType:  "unsupported",
		KeyNumFilters: "4,4",
		KeyEpochs:     3,
	}))

	mp, err := s.ModelParameters()
	require.NoError(t, err)
	assert.Equal(t, "unsupported", mp.ModelType)
	assert.Equal(t, 3, mp.Epochs)
	// architecture keys live in [convolutional_basic], unreachable for another model type
	assert.Equal(t, 3, mp.NumBlocks)
	assert.Equal(t, []int{16, 8, 8}, mp.NumFilters)

	require.NoError(t, s.SetModelParameters(map[string]any{KeyModelType: ConvolutionalBasic}))
	mp, err = s.ModelParameters()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, mp.NumFilters)
}

func TestLoadQuotedValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, TransformFile),
		"[DEFAULT]\ncolumns = \"a\",\"b\"\nmethod = 'fft'\nchunk_size = \"16\"\n")

	tp, err := LoadTransformParameters(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tp.Columns)
	assert.Equal(t, "fft", tp.Method)
	assert.Equal(t, 16, tp.ChunkSize)
	assert.Equal(t, 128, tp.FFTSize)
}
