package classifier

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/feichai0017/timechange/internal/models"
	"github.com/feichai0017/timechange/pkg/logger"
)

const weightsMagic = "TCW1"

// LocalAdapter trains in process. It validates the full convolutional_basic
// geometry at compile time but fits only a linear read-out (softmax, or
// sigmoid for two classes) over the normalized pixels with mini-batch SGD.
type LocalAdapter struct {
	logger logger.Logger
}

// readout is the trainable state behind a local handle.
type readout struct {
	weights *mat.Dense    // classes x inputs
	bias    *mat.VecDense // classes
}

func NewLocalAdapter(log logger.Logger) *LocalAdapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &LocalAdapter{logger: log.Named("classifier.local")}
}

func (a *LocalAdapter) Compile(ctx context.Context, numClasses int, input Shape, arch Architecture) (*Handle, error) {
	h, err := newHandle(uuid.NewString(), numClasses, input, arch)
	if err != nil {
		return nil, err
	}
	h.state = &readout{
		weights: mat.NewDense(numClasses, input.Size(), nil),
		bias:    mat.NewVecDense(numClasses, nil),
	}
	a.logger.Info("Compiled model",
		logger.String("model_id", h.ID),
		logger.Int("classes", numClasses),
		logger.Int("height", input.Height),
		logger.Int("width", input.Width),
		logger.String("loss", h.Loss),
	)
	return h, nil
}

func (a *LocalAdapter) Fit(ctx context.Context, h *Handle, imageDir string, labels []string, opts FitOptions) (models.History, error) {
	r, err := readoutOf(h)
	if err != nil {
		return nil, err
	}
	if len(labels) != h.NumClasses {
		return nil, fmt.Errorf("%w: model has %d classes, dataset has %d labels", ErrGeometry, h.NumClasses, len(labels))
	}

	data, err := loadDataset(imageDir, labels, h.Input)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var rng *rand.Rand
	if opts.Shuffle {
		rng = rand.New(rand.NewSource(seed))
	}
	epochs := max(opts.Epochs, 1)

	classes, inputs := r.weights.Dims()
	gradW := mat.NewDense(classes, inputs, nil)
	gradB := mat.NewVecDense(classes, nil)
	logits := mat.NewVecDense(classes, nil)
	lr := h.Arch.LearningRate

	history := models.History{
		models.MetricAccuracy: make([]float64, 0, epochs),
		models.MetricLoss:     make([]float64, 0, epochs),
	}
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var lossSum float64
		correct := 0
		for _, batch := range batches(len(data), opts.BatchSize, rng) {
			gradW.Zero()
			gradB.Zero()
			for _, i := range batch {
				x := mat.NewVecDense(inputs, data[i].pixels)
				logits.MulVec(r.weights, x)
				logits.AddVec(logits, r.bias)

				probs, loss, grad := score(logits.RawVector().Data, data[i].class, h.Activation)
				lossSum += loss
				if argmax(probs) == data[i].class {
					correct++
				}
				g := mat.NewVecDense(classes, grad)
				gradW.RankOne(gradW, 1, g, x)
				gradB.AddVec(gradB, g)
			}
			step := -lr / float64(len(batch))
			gradW.Scale(step, gradW)
			r.weights.Add(r.weights, gradW)
			r.bias.AddScaledVec(r.bias, step, gradB)
		}

		metrics := map[string]float64{
			models.MetricAccuracy: float64(correct) / float64(len(data)),
			models.MetricLoss:     lossSum / float64(len(data)),
		}
		history[models.MetricAccuracy] = append(history[models.MetricAccuracy], metrics[models.MetricAccuracy])
		history[models.MetricLoss] = append(history[models.MetricLoss], metrics[models.MetricLoss])
		a.logger.Debug("Training epoch ended",
			logger.String("model_id", h.ID),
			logger.Int("epoch", epoch),
			logger.Float64("loss", metrics[models.MetricLoss]),
			logger.Float64("accuracy", metrics[models.MetricAccuracy]),
		)
		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch, metrics)
		}
	}

	return history, nil
}

// score returns class probabilities, the sample loss and d(loss)/d(logits).
func score(logits []float64, class int, activation string) (probs []float64, loss float64, grad []float64) {
	const eps = 1e-12
	n := len(logits)
	probs = make([]float64, n)
	grad = make([]float64, n)

	if activation == ActivationSigmoid {
		for k, z := range logits {
			p := 1 / (1 + math.Exp(-z))
			y := 0.0
			if k == class {
				y = 1
			}
			probs[k] = p
			loss -= y*math.Log(math.Max(p, eps)) + (1-y)*math.Log(math.Max(1-p, eps))
			grad[k] = (p - y) / float64(n)
		}
		return probs, loss / float64(n), grad
	}

	peak := math.Inf(-1)
	for _, z := range logits {
		peak = math.Max(peak, z)
	}
	var sum float64
	for k, z := range logits {
		probs[k] = math.Exp(z - peak)
		sum += probs[k]
	}
	for k := range probs {
		probs[k] /= sum
		grad[k] = probs[k]
	}
	grad[class] -= 1
	return probs, -math.Log(math.Max(probs[class], eps)), grad
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func (a *LocalAdapter) Save(ctx context.Context, h *Handle, path string) error {
	r, err := readoutOf(h)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".weights-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	err = writeWeights(w, r)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store weights: %w", err)
	}

	h.WeightsPath = path
	a.logger.Info("Saved weights", logger.String("model_id", h.ID), logger.String("path", path))
	return nil
}

func (a *LocalAdapter) Load(ctx context.Context, h *Handle, path string) error {
	r, err := readoutOf(h)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open weights: %w", err)
	}
	defer f.Close()

	loaded, err := readWeights(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read weights %s: %w", path, err)
	}
	wr, wc := loaded.weights.Dims()
	hr, hc := r.weights.Dims()
	if wr != hr || wc != hc || loaded.bias.Len() != r.bias.Len() {
		return fmt.Errorf("%w: weights are %dx%d, model is %dx%d", ErrGeometry, wr, wc, hr, hc)
	}

	h.state = loaded
	h.WeightsPath = path
	return nil
}

func readoutOf(h *Handle) (*readout, error) {
	if h == nil {
		return nil, ErrNoModel
	}
	r, ok := h.state.(*readout)
	if !ok {
		return nil, fmt.Errorf("%w: handle %s was not compiled by the local backend", ErrNoModel, h.ID)
	}
	return r, nil
}

func writeWeights(w io.Writer, r *readout) error {
	if _, err := io.WriteString(w, weightsMagic); err != nil {
		return err
	}
	wb, err := r.weights.MarshalBinary()
	if err != nil {
		return err
	}
	bb, err := r.bias.MarshalBinary()
	if err != nil {
		return err
	}
	for _, blob := range [][]byte{wb, bb} {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(blob))); err != nil {
			return err
		}
		if _, err := w.Write(blob); err != nil {
			return err
		}
	}
	return nil
}

func readWeights(rd io.Reader) (*readout, error) {
	magic := make([]byte, len(weightsMagic))
	if _, err := io.ReadFull(rd, magic); err != nil {
		return nil, err
	}
	if string(magic) != weightsMagic {
		return nil, fmt.Errorf("not a weights file")
	}

	blobs := make([][]byte, 2)
	for i := range blobs {
		var n uint64
		if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if n > 1<<32 {
			return nil, fmt.Errorf("weights block of %d bytes is too large", n)
		}
		blobs[i] = make([]byte, n)
		if _, err := io.ReadFull(rd, blobs[i]); err != nil {
			return nil, err
		}
	}

	r := &readout{weights: &mat.Dense{}, bias: &mat.VecDense{}}
	if err := r.weights.UnmarshalBinary(blobs[0]); err != nil {
		return nil, err
	}
	if err := r.bias.UnmarshalBinary(blobs[1]); err != nil {
		return nil, err
	}
	return r, nil
}
