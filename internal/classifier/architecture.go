package classifier

import (
	"fmt"
	"strings"

	"github.com/feichai0017/timechange/internal/models"
)

const (
	ConvolutionalBasic = "convolutional_basic"

	LossBinary      = "binary_crossentropy"
	LossCategorical = "categorical_crossentropy"

	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"

	kernelSize = 3
	poolSize   = 2
	denseUnits = 64
	dropout    = 0.3
)

// Architecture is the validated form of parameters.conf.
type Architecture struct {
	ModelType    string  `json:"modelType"`
	NumBlocks    int     `json:"numBlocks"`
	NumFilters   []int   `json:"numFilters"`
	LearningRate float64 `json:"learningRate"`
}

// NewArchitecture validates model parameters and fits the filter list to
// the number of blocks.
func NewArchitecture(p models.ModelParameters) (Architecture, error) {
	modelType := strings.Trim(strings.TrimSpace(p.ModelType), `"'`)
	if modelType != ConvolutionalBasic {
		return Architecture{}, fmt.Errorf("%w: %q", ErrInvalidModelType, p.ModelType)
	}
	if p.NumBlocks < 1 {
		return Architecture{}, fmt.Errorf("num_blocks must be at least 1, got %d", p.NumBlocks)
	}
	if len(p.NumFilters) == 0 {
		return Architecture{}, fmt.Errorf("num_filters must not be empty")
	}
	for _, f := range p.NumFilters {
		if f < 1 {
			return Architecture{}, fmt.Errorf("num_filters entries must be positive, got %d", f)
		}
	}
	if p.LearningRate <= 0 {
		return Architecture{}, fmt.Errorf("learning_rate must be positive, got %g", p.LearningRate)
	}

	return Architecture{
		ModelType:    modelType,
		NumBlocks:    p.NumBlocks,
		NumFilters:   PadFilters(p.NumFilters, p.NumBlocks),
		LearningRate: p.LearningRate,
	}, nil
}

// PadFilters returns exactly blocks filter counts: extra entries are
// dropped, missing ones repeat the last entry.
func PadFilters(filters []int, blocks int) []int {
	out := make([]int, blocks)
	for i := range out {
		if i < len(filters) {
			out[i] = filters[i]
		} else {
			out[i] = filters[len(filters)-1]
		}
	}
	return out
}

// OutputFor picks loss and final activation from the class count.
func OutputFor(numClasses int) (loss, activation string) {
	if numClasses == 2 {
		return LossBinary, ActivationSigmoid
	}
	return LossCategorical, ActivationSoftmax
}

// Layer describes one layer and the shape it produces.
type Layer struct {
	Kind   string  `json:"kind"`
	Units  int     `json:"units,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Output Shape   `json:"output"`
}

// Plan lays out the convolutional_basic stack for an input: per block a
// 3x3 valid convolution with relu and a 2x2 max pool, then flatten,
// dense(64, relu), dropout(0.3) and the class layer.
func Plan(numClasses int, input Shape, arch Architecture) ([]Layer, error) {
	if numClasses < 1 {
		return nil, fmt.Errorf("%w: %d classes", ErrGeometry, numClasses)
	}
	if input.Channels < 1 || input.Height < 1 || input.Width < 1 {
		return nil, fmt.Errorf("%w: input %dx%dx%d", ErrGeometry, input.Channels, input.Height, input.Width)
	}

	var layers []Layer
	cur := input
	for i := 0; i < arch.NumBlocks; i++ {
		filters := arch.NumFilters[i]
		cur = Shape{Channels: filters, Height: cur.Height - kernelSize + 1, Width: cur.Width - kernelSize + 1}
		if cur.Height < 1 || cur.Width < 1 {
			return nil, fmt.Errorf("%w: image %dx%d too small for %d convolutional blocks",
				ErrGeometry, input.Height, input.Width, arch.NumBlocks)
		}
		layers = append(layers, Layer{Kind: "conv2d", Units: filters, Output: cur})

		cur = Shape{Channels: filters, Height: cur.Height / poolSize, Width: cur.Width / poolSize}
		if cur.Height < 1 || cur.Width < 1 {
			return nil, fmt.Errorf("%w: image %dx%d too small for %d convolutional blocks",
				ErrGeometry, input.Height, input.Width, arch.NumBlocks)
		}
		layers = append(layers, Layer{Kind: "max_pool2d", Output: cur})
	}

	flat := Shape{Channels: cur.Size(), Height: 1, Width: 1}
	_, activation := OutputFor(numClasses)
	layers = append(layers,
		Layer{Kind: "flatten", Output: flat},
		Layer{Kind: "dense_relu", Units: denseUnits, Output: Shape{Channels: denseUnits, Height: 1, Width: 1}},
		Layer{Kind: "dropout", Rate: dropout, Output: Shape{Channels: denseUnits, Height: 1, Width: 1}},
		Layer{Kind: "dense_" + activation, Units: numClasses, Output: Shape{Channels: numClasses, Height: 1, Width: 1}},
	)
	return layers, nil
}

// newHandle fills the backend independent part of a handle.
func newHandle(id string, numClasses int, input Shape, arch Architecture) (*Handle, error) {
	if arch.ModelType != ConvolutionalBasic {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModelType, arch.ModelType)
	}
	layers, err := Plan(numClasses, input, arch)
	if err != nil {
		return nil, err
	}
	loss, activation := OutputFor(numClasses)
	return &Handle{
		ID:         id,
		NumClasses: numClasses,
		Input:      input,
		Arch:       arch,
		Loss:       loss,
		Activation: activation,
		Layers:     layers,
	}, nil
}
