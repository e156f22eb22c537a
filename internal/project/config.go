package project

import (
	"fmt"
	"strings"

	"github.com/go-ini/ini"
	"github.com/spf13/cast"

	"github.com/feichai0017/timechange/internal/models"
	"github.com/feichai0017/timechange/internal/transform"
)

const (
	ParametersFile = "parameters.conf"
	TransformFile  = "transform.conf"

	// ConvolutionalBasic is the only model type parameters.conf may select.
	ConvolutionalBasic = "convolutional_basic"
)

// Keys of transform.conf.
const (
	KeyColumns   = "columns"
	KeyMethod    = "method"
	KeyChunkSize = "chunk_size"
	KeyFFTSize   = "fft_size"
)

// Keys of parameters.conf.
const (
	KeyModelType    = "model_type"
	KeyNumBlocks    = "num_blocks"
	KeyNumFilters   = "num_filters"
	KeyLearningRate = "learning_rate"
	KeyEpochs       = "epochs"
	KeyBatchSize    = "batch_size"
)

func init() {
	// configparser-style files always carry a [DEFAULT] header.
	ini.DefaultHeader = true
}

// DefaultTransformParameters are written into a fresh transform.conf.
func DefaultTransformParameters() models.TransformParameters {
	return models.TransformParameters{
		Method:    string(transform.FFT),
		ChunkSize: 64,
		FFTSize:   128,
	}
}

// DefaultModelParameters are written into a fresh parameters.conf.
func DefaultModelParameters() models.ModelParameters {
	return models.ModelParameters{
		ModelType:    ConvolutionalBasic,
		NumBlocks:    3,
		NumFilters:   []int{16, 8, 8},
		LearningRate: 1e-2,
		Epochs:       20,
		BatchSize:    64,
	}
}

func writeDefaultTransform(path string) error {
	p := DefaultTransformParameters()
	f := ini.Empty()
	sec := f.Section(ini.DefaultSection)
	sec.Key(KeyColumns).SetValue("")
	sec.Key(KeyMethod).SetValue(p.Method)
	sec.Key(KeyChunkSize).SetValue(cast.ToString(p.ChunkSize))
	sec.Key(KeyFFTSize).SetValue(cast.ToString(p.FFTSize))
	return f.SaveTo(path)
}

func writeDefaultParameters(path string) error {
	p := DefaultModelParameters()
	f := ini.Empty()
	def := f.Section(ini.DefaultSection)
	def.Key(KeyModelType).SetValue(p.ModelType)
	def.Key(KeyEpochs).SetValue(cast.ToString(p.Epochs))
	def.Key(KeyBatchSize).SetValue(cast.ToString(p.BatchSize))

	sec, err := f.NewSection(ConvolutionalBasic)
	if err != nil {
		return err
	}
	sec.Key(KeyNumBlocks).SetValue(cast.ToString(p.NumBlocks))
	sec.Key(KeyNumFilters).SetValue(joinInts(p.NumFilters))
	sec.Key(KeyLearningRate).SetValue("1e-2")
	return f.SaveTo(path)
}

// LoadTransformParameters reads transform.conf, falling back to defaults
// for absent keys.
func LoadTransformParameters(path string) (models.TransformParameters, error) {
	p := DefaultTransformParameters()
	f, err := ini.Load(path)
	if err != nil {
		return p, fmt.Errorf("failed to load %s: %w", TransformFile, err)
	}

	if v, ok := lookup(f, ini.DefaultSection, KeyColumns); ok {
		p.Columns = splitList(v)
	}
	if v, ok := lookup(f, ini.DefaultSection, KeyMethod); ok {
		p.Method = v
	}
	if p.ChunkSize, err = lookupInt(f, ini.DefaultSection, KeyChunkSize, p.ChunkSize); err != nil {
		return p, err
	}
	if p.FFTSize, err = lookupInt(f, ini.DefaultSection, KeyFFTSize, p.FFTSize); err != nil {
		return p, err
	}
	return p, nil
}

// LoadModelParameters reads parameters.conf. Architecture keys are looked up
// in the section named after model_type first, then in DEFAULT.
func LoadModelParameters(path string) (models.ModelParameters, error) {
	p := DefaultModelParameters()
	f, err := ini.Load(path)
	if err != nil {
		return p, fmt.Errorf("failed to load %s: %w", ParametersFile, err)
	}

	if v, ok := lookup(f, ini.DefaultSection, KeyModelType); ok {
		p.ModelType = v
	}
	section := p.ModelType

	if p.NumBlocks, err = lookupInt(f, section, KeyNumBlocks, p.NumBlocks); err != nil {
		return p, err
	}
	if v, ok := lookup(f, section, KeyNumFilters); ok {
		filters := make([]int, 0)
		for _, s := range splitList(v) {
			n, err := cast.ToIntE(s)
			if err != nil {
				return p, fmt.Errorf("invalid %s entry %q: %w", KeyNumFilters, s, err)
			}
			filters = append(filters, n)
		}
		p.NumFilters = filters
	}
	if v, ok := lookup(f, section, KeyLearningRate); ok {
		if p.LearningRate, err = cast.ToFloat64E(v); err != nil {
			return p, fmt.Errorf("invalid %s %q: %w", KeyLearningRate, v, err)
		}
	}
	if p.Epochs, err = lookupInt(f, section, KeyEpochs, p.Epochs); err != nil {
		return p, err
	}
	if p.BatchSize, err = lookupInt(f, section, KeyBatchSize, p.BatchSize); err != nil {
		return p, err
	}
	return p, nil
}

// updateSection stores key/value overrides into one section of an ini file.
func updateSection(path, section string, values map[string]string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	sec := f.Section(section)
	for k, v := range values {
		sec.Key(k).SetValue(v)
	}
	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func lookup(f *ini.File, section, key string) (string, bool) {
	if sec, err := f.GetSection(section); err == nil && sec.HasKey(key) {
		return unquote(sec.Key(key).String()), true
	}
	if def := f.Section(ini.DefaultSection); def.HasKey(key) {
		return unquote(def.Key(key).String()), true
	}
	return "", false
}

func lookupInt(f *ini.File, section, key string, fallback int) (int, error) {
	v, ok := lookup(f, section, key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = unquote(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = cast.ToString(n)
	}
	return strings.Join(parts, ",")
}
