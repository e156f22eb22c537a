package transform

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"
)

func series(t *testing.T, rows ...[]float64) *Series {
	t.Helper()
	s, err := NewSeries(nil, rows)
	require.NoError(t, err)
	return s
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func randomRow(r *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r.NormFloat64() * 10
	}
	return out
}

func TestPadLength(t *testing.T) {
	for _, chunk := range []int{1, 3, 16, 64} {
		for samples := 0; samples < 200; samples++ {
			pad := PadLength(samples, chunk)
			assert.Greater(t, pad, 0)
			assert.LessOrEqual(t, pad, chunk)
			assert.Zero(t, (samples+pad)%chunk)
		}
	}
	assert.Equal(t, 64, PadLength(64, 64))
	assert.Equal(t, 1, PadLength(63, 64))
}

func TestExtractOnesExample(t *testing.T) {
	s := series(t, constant(64, 1))

	fm, err := Extract(s, FFT, 64, 64)
	require.NoError(t, err)

	// 64 samples always get one extra chunk of padding.
	assert.Equal(t, [4]int{1, 2, 33, 3}, fm.Shape())
	for _, v := range fm.Data {
		assert.False(t, math.IsNaN(v))
	}
	assert.InDelta(t, 1.0, fm.At(0, 0, 0, 0), 1e-12)
	for b := 1; b < fm.Bins; b++ {
		assert.InDelta(t, 0.0, fm.At(0, 0, b, 0), 1e-9)
	}
	for b := 0; b < fm.Bins; b++ {
		assert.Equal(t, 0.0, fm.At(0, 1, b, 0))
	}
}

func TestExtractRange(t *testing.T) {
	r := rand.New(rand.NewSource(413))
	for i := 0; i < 20; i++ {
		samples := 1 + r.Intn(300)
		s := series(t, randomRow(r, samples), randomRow(r, samples), randomRow(r, samples))

		fm, err := Extract(s, FFT, 32, 64)
		require.NoError(t, err)
		for _, v := range fm.Data {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
		for c := 0; c < fm.Channels; c++ {
			peak := 0.0
			for k := 0; k < fm.Chunks; k++ {
				for b := 0; b < fm.Bins; b++ {
					peak = math.Max(peak, fm.At(c, k, b, 0))
				}
			}
			assert.Equal(t, 1.0, peak, "channel %d should reach 1", c)
		}
	}
}

func TestExtractShapeIgnoresValues(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	tests := []struct {
		channels, samples, chunk, fft int
		want                          [4]int
	}{
		{1, 64, 64, 128, [4]int{1, 2, 65, 3}},
		{3, 100, 64, 128, [4]int{3, 2, 65, 3}},
		{2, 10, 4, 8, [4]int{2, 3, 5, 3}},
		{2, 0, 16, 16, [4]int{2, 1, 9, 3}},
		{1, 5, 8, 3, [4]int{1, 1, 2, 3}},
	}
	for _, tt := range tests {
		rows := make([][]float64, tt.channels)
		zeros := make([][]float64, tt.channels)
		for i := range rows {
			rows[i] = randomRow(r, tt.samples)
			zeros[i] = make([]float64, tt.samples)
		}
		a, err := Extract(series(t, rows...), FFT, tt.chunk, tt.fft)
		require.NoError(t, err)
		b, err := Extract(series(t, zeros...), FFT, tt.chunk, tt.fft)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Shape())
		assert.Equal(t, a.Shape(), b.Shape())
		assert.Len(t, a.Data, tt.want[0]*tt.want[1]*tt.want[2]*tt.want[3])
	}
}

func TestExtractZeroChannel(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s := series(t, randomRow(r, 90), make([]float64, 90))

	fm, err := Extract(s, FFT, 16, 32)
	require.NoError(t, err)
	for k := 0; k < fm.Chunks; k++ {
		for b := 0; b < fm.Bins; b++ {
			for p := 0; p < Planes; p++ {
				assert.Equal(t, 0.0, fm.At(1, k, b, p))
			}
		}
	}
}

func TestExtractPlanesAreReplicated(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	fm, err := Extract(series(t, randomRow(r, 50), randomRow(r, 50)), FFT, 8, 16)
	require.NoError(t, err)
	for c := 0; c < fm.Channels; c++ {
		for k := 0; k < fm.Chunks; k++ {
			for b := 0; b < fm.Bins; b++ {
				v := fm.At(c, k, b, 0)
				assert.Equal(t, v, fm.At(c, k, b, 1))
				assert.Equal(t, v, fm.At(c, k, b, 2))
			}
		}
	}
}

func TestExtractMatchesReferenceFFT(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	const chunk, size = 16, 32
	row := randomRow(r, 40)

	fm, err := Extract(series(t, row), FFT, chunk, size)
	require.NoError(t, err)

	ref := fourier.NewFFT(size)
	padded := append(append([]float64{}, row...), make([]float64, PadLength(len(row), chunk))...)
	var want []float64
	for k := 0; k < len(padded)/chunk; k++ {
		frame := make([]float64, size)
		copy(frame, padded[k*chunk:(k+1)*chunk])
		for _, c := range ref.Coefficients(nil, frame) {
			want = append(want, cmplx.Abs(c))
		}
	}
	peak := 0.0
	for _, v := range want {
		peak = math.Max(peak, v)
	}

	require.Equal(t, len(want), fm.Chunks*fm.Bins)
	for k := 0; k < fm.Chunks; k++ {
		for b := 0; b < fm.Bins; b++ {
			assert.InDelta(t, want[k*fm.Bins+b]/peak, fm.At(0, k, b, 0), 1e-9)
		}
	}
}

func TestExtractTruncatesChunkLongerThanFFT(t *testing.T) {
	row := make([]float64, 8)
	row[0] = 1
	row[6] = 100 // beyond fft_size=4, must be ignored

	fm, err := Extract(series(t, row), FFT, 8, 4)
	require.NoError(t, err)
	// impulse at 0 gives a flat spectrum in the first chunk
	for b := 0; b < fm.Bins; b++ {
		assert.InDelta(t, 1.0, fm.At(0, 0, b, 0), 1e-12)
	}
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	row := randomRow(r, 33)
	orig := append([]float64{}, row...)

	_, err := Extract(series(t, row), FFT, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, orig, row)
}

func TestExtractErrors(t *testing.T) {
	s := series(t, constant(10, 1))

	_, err := Extract(s, Method("wavelet"), 8, 8)
	assert.ErrorIs(t, err, ErrInvalidMethod)

	_, err = Extract(s, FFT, 0, 8)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = Extract(s, FFT, 8, -1)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = Extract(series(t, []float64{1, math.NaN()}), FFT, 2, 2)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestSpectrogramPassesThrough(t *testing.T) {
	s := series(t, []float64{1, 2, 3}, []float64{-1, 0, 5})

	fm, err := Extract(s, Spectrogram, 64, 128)
	require.NoError(t, err)
	assert.Equal(t, [4]int{2, 1, 3, 3}, fm.Shape())
	assert.Equal(t, 5.0, fm.At(1, 0, 2, 2))
	assert.Equal(t, -1.0, fm.At(1, 0, 0, 0))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(` "FFT" `)
	require.NoError(t, err)
	assert.Equal(t, FFT, m)

	m, err = ParseMethod("'spectrogram'")
	require.NoError(t, err)
	assert.Equal(t, Spectrogram, m)

	_, err = ParseMethod("unsupported")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}
