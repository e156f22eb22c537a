package converters

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/timechange/internal/transform"
)

func TestQuantize(t *testing.T) {
	assert.Equal(t, uint8(0), Quantize(0))
	assert.Equal(t, uint8(255), Quantize(1))
	assert.Equal(t, uint8(128), Quantize(0.5))
	assert.Equal(t, uint8(0), Quantize(-3))
	assert.Equal(t, uint8(255), Quantize(7))
}

func TestSaveAndLoad(t *testing.T) {
	s, err := transform.NewSeries(nil, [][]float64{
		{1, 0, -1, 0, 1, 0, -1, 0, 1, 0},
		{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	})
	require.NoError(t, err)
	fm, err := transform.Extract(s, transform.FFT, 4, 8)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a.png")
	conv := NewRasterConverter()
	require.NoError(t, conv.Save(fm, path))

	h, w, err := Size(path)
	require.NoError(t, err)
	assert.Equal(t, fm.Height(), h)
	assert.Equal(t, fm.Width(), w)

	pixels, h, w, err := Load(path)
	require.NoError(t, err)
	require.Len(t, pixels, 3*h*w)
	for ch := 0; ch < fm.Channels; ch++ {
		for k := 0; k < fm.Chunks; k++ {
			for b := 0; b < fm.Bins; b++ {
				p := (ch*fm.Chunks+k)*w + b
				want := float64(Quantize(fm.At(ch, k, b, 0))) / 255
				assert.InDelta(t, want, pixels[p], 1e-12)
				assert.InDelta(t, want, pixels[h*w+p], 1e-12)
				assert.InDelta(t, want, pixels[2*h*w+p], 1e-12)
			}
		}
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	s, err := transform.NewSeries(nil, [][]float64{{}})
	require.NoError(t, err)
	fm, err := transform.Extract(s, transform.Spectrogram, 4, 4)
	require.NoError(t, err)

	_, err = NewRasterConverter().Encode(fm)
	assert.Error(t, err)
}
