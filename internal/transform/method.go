package transform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMethod is returned for a feature extraction method that is not known.
	ErrInvalidMethod = errors.New("invalid feature extraction method")
	// ErrInvalidParameters is returned for unusable chunk/fft sizes or input values.
	ErrInvalidParameters = errors.New("invalid transform parameters")
)

// Method selects the feature extraction applied by Extract.
type Method string

const (
	// FFT chunks every channel and keeps the normalized magnitude of a real FFT per chunk.
	FFT Method = "fft"
	// Spectrogram is not implemented: Extract passes the series through unchanged.
	Spectrogram Method = "spectrogram"
)

// Methods lists every supported method.
func Methods() []Method {
	return []Method{FFT, Spectrogram}
}

// ParseMethod maps a configuration value onto a Method. Surrounding quotes
// and whitespace are ignored, matching how the .conf files are written.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'`)))
	switch m {
	case FFT, Spectrogram:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

func (m Method) String() string {
	return string(m)
}
