package transform

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// Planes is the number of identical colour planes in every feature map.
const Planes = 3

// FeatureMap is a channels x chunks x bins x Planes array with values in [0,1].
type FeatureMap struct {
	Channels int
	Chunks   int
	Bins     int
	Data     []float64
}

func newFeatureMap(channels, chunks, bins int) *FeatureMap {
	return &FeatureMap{
		Channels: channels,
		Chunks:   chunks,
		Bins:     bins,
		Data:     make([]float64, channels*chunks*bins*Planes),
	}
}

// Shape returns the four dimensions of the map.
func (f *FeatureMap) Shape() [4]int {
	return [4]int{f.Channels, f.Chunks, f.Bins, Planes}
}

// At returns one element.
func (f *FeatureMap) At(channel, chunk, bin, plane int) float64 {
	return f.Data[f.offset(channel, chunk, bin)+plane]
}

// Height is the number of image rows the map occupies: one per (channel, chunk).
func (f *FeatureMap) Height() int {
	return f.Channels * f.Chunks
}

// Width is the number of image columns: one per bin.
func (f *FeatureMap) Width() int {
	return f.Bins
}

func (f *FeatureMap) offset(channel, chunk, bin int) int {
	return ((channel*f.Chunks+chunk)*f.Bins + bin) * Planes
}

// setPlane writes a chunks x bins channel plane into every colour plane.
func (f *FeatureMap) setPlane(channel int, plane []float64) {
	base := f.offset(channel, 0, 0)
	for i, v := range plane {
		for p := 0; p < Planes; p++ {
			f.Data[base+i*Planes+p] = v
		}
	}
}

// Extract turns a series into a feature map. The series is expected to be
// padded to the batch-wide sample count already; it is never modified.
func Extract(s *Series, method Method, chunkSize, fftSize int) (*FeatureMap, error) {
	switch method {
	case FFT:
		return simpleFourier(s, chunkSize, fftSize)
	case Spectrogram:
		return spectrogram(s), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, string(method))
	}
}

// simpleFourier pads every channel with PadLength zeros, splits it into
// chunkSize runs, takes |rfft| of each run at fftSize points and divides
// each channel by its own maximum magnitude.
func simpleFourier(s *Series, chunkSize, fftSize int) (*FeatureMap, error) {
	if chunkSize <= 0 || fftSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size=%d fft_size=%d", ErrInvalidParameters, chunkSize, fftSize)
	}
	if s.Channels() == 0 {
		return nil, fmt.Errorf("%w: series has no channels", ErrInvalidParameters)
	}

	samples := s.Samples()
	chunks := (samples + PadLength(samples, chunkSize)) / chunkSize
	bins := fftSize/2 + 1
	out := newFeatureMap(s.Channels(), chunks, bins)

	frame := make([]float64, fftSize)
	n := min(chunkSize, fftSize)
	for c, row := range s.Rows {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: channel %d holds a non-finite value", ErrInvalidParameters, c)
			}
		}

		plane := make([]float64, chunks*bins)
		for k := 0; k < chunks; k++ {
			clear(frame)
			start := k * chunkSize
			for i := 0; i < n && start+i < samples; i++ {
				frame[i] = row[start+i]
			}
			spectrum := fft.FFTReal(frame)
			for b := 0; b < bins; b++ {
				plane[k*bins+b] = cmplx.Abs(spectrum[b])
			}
		}

		peak := floats.Max(plane)
		if peak == 0 {
			peak = 1
		}
		for i := range plane {
			plane[i] /= peak
		}
		out.setPlane(c, plane)
	}

	return out, nil
}

// spectrogram is a placeholder: the raw samples come back as a single chunk.
func spectrogram(s *Series) *FeatureMap {
	out := newFeatureMap(s.Channels(), 1, s.Samples())
	for c, row := range s.Rows {
		out.setPlane(c, row)
	}
	return out
}
