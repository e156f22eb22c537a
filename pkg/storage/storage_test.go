package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/storage/local"
)

func TestNewStorage(t *testing.T) {
	st, err := NewStorage(context.Background(), Config{}, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = NewStorage(context.Background(), Config{Type: StorageTypeLocal, Dir: t.TempDir()}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &local.DirStorage{}, st)

	_, err = NewStorage(context.Background(), Config{Type: StorageTypeLocal}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewStorage(context.Background(), Config{Type: "ftp"}, logger.NewNop())
	assert.ErrorContains(t, err, "unsupported storage type")
}

func TestWeightsKey(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 5, time.UTC)
	key := WeightsKey("demo", at)
	assert.True(t, strings.HasPrefix(key, WeightsPrefix("demo")))
	assert.Equal(t, "demo/weights/20240301T123000.000000005Z.h5", key)
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := local.NewDirStorage(t.TempDir(), nil)
	require.NoError(t, err)

	key, err := st.Store(ctx, strings.NewReader("weights"), "p/weights/a.h5")
	require.NoError(t, err)

	rc, err := st.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "weights", string(data))

	require.NoError(t, st.Delete(ctx, key))
	_, err = st.Get(ctx, key)
	assert.Error(t, err)

	_, err = st.Store(ctx, strings.NewReader("x"), "../escape")
	assert.Error(t, err)
}

func TestExporterPrunesOldExports(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := local.NewDirStorage(dir, nil)
	require.NoError(t, err)

	old := filepath.Join(dir, "demo", "weights", "old.h5")
	other := filepath.Join(dir, "other", "weights", "old.h5")
	for _, p := range []string{old, other} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		past := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(p, past, past))
	}

	weights := filepath.Join(t.TempDir(), "latest.h5")
	require.NoError(t, os.WriteFile(weights, []byte("fresh"), 0o644))

	e := NewExporter(st, "demo", time.Hour, nil)
	key, err := e.Export(ctx, weights)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	assert.NoFileExists(t, old)
	assert.FileExists(t, other)
}

func TestExporterMissingWeights(t *testing.T) {
	st, err := local.NewDirStorage(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = NewExporter(st, "demo", 0, nil).Export(context.Background(), "/nonexistent/latest.h5")
	assert.Error(t, err)
}
