package classifier

import (
	"context"
	"errors"

	"github.com/feichai0017/timechange/internal/models"
)

var (
	// ErrInvalidModelType is returned when parameters.conf selects an unknown architecture.
	ErrInvalidModelType = errors.New("invalid neural net type")
	// ErrNoModel is returned when training is requested without a usable model.
	ErrNoModel = errors.New("no model")
	// ErrGeometry is returned when images do not fit the compiled input shape.
	ErrGeometry = errors.New("invalid input geometry")
)

// Shape is the channels-first input geometry of a classifier.
type Shape struct {
	Channels int `json:"channels"`
	Height   int `json:"height"`
	Width    int `json:"width"`
}

// Size is the number of values in one input.
func (s Shape) Size() int {
	return s.Channels * s.Height * s.Width
}

// FitOptions controls one training run.
type FitOptions struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
	// Seed drives the per-epoch shuffle; zero picks a time based seed.
	Seed int64
	// OnEpoch, if set, is called after every epoch with that epoch's metrics.
	OnEpoch func(epoch int, metrics map[string]float64)
}

// Adapter is the model capability the worker drives. Implementations never
// expose network internals; callers only see handles and metric histories.
type Adapter interface {
	// Compile builds a classifier for numClasses classes over inputs of shape input.
	Compile(ctx context.Context, numClasses int, input Shape, arch Architecture) (*Handle, error)
	// Fit trains h on imageDir/<label>/*.png, class i being labels[i].
	Fit(ctx context.Context, h *Handle, imageDir string, labels []string, opts FitOptions) (models.History, error)
	// Save writes the weights of h to path.
	Save(ctx context.Context, h *Handle, path string) error
	// Load restores weights previously written by Save.
	Load(ctx context.Context, h *Handle, path string) error
}

// Handle references one compiled classifier.
type Handle struct {
	ID          string       `json:"id"`
	NumClasses  int          `json:"numClasses"`
	Input       Shape        `json:"input"`
	Arch        Architecture `json:"architecture"`
	Loss        string       `json:"loss"`
	Activation  string       `json:"activation"`
	Layers      []Layer      `json:"layers"`
	WeightsPath string       `json:"weightsPath,omitempty"`

	// backend state owned by the adapter that compiled the handle
	state any
}
