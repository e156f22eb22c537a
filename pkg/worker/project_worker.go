package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/timechange/internal/classifier"
	"github.com/feichai0017/timechange/internal/models"
	"github.com/feichai0017/timechange/internal/project"
	"github.com/feichai0017/timechange/internal/transform"
	"github.com/feichai0017/timechange/pkg/converters"
	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/queue"
)

var (
	ErrTransformFailure = errors.New("transform failed")
	ErrBuildFailure     = errors.New("model build failed")
	ErrTrainingFailure  = errors.New("training failed")
	// ErrChannelMismatch is returned when csv files of one run do not share
	// the same channels by name.
	ErrChannelMismatch = errors.New("channel set differs between files")
)

// Recorder keeps a log of finished jobs.
type Recorder interface {
	Record(ctx context.Context, res models.Result) error
}

// Exporter copies saved weights somewhere outside the project.
type Exporter interface {
	Export(ctx context.Context, weightsPath string) (string, error)
}

// ProjectWorker executes transform, build_model and train jobs against one
// project. It is the only writer of images/ and models/.
type ProjectWorker struct {
	store     *project.Store
	adapter   classifier.Adapter
	converter converters.ImageConverter
	exporter  Exporter
	journal   Recorder
	logger    logger.Logger
	cfg       Config

	// running serializes jobs, also when a transport gave up waiting on one
	running sync.Mutex

	mu     sync.RWMutex
	model  *classifier.Handle
	labels []string
}

type Option func(*ProjectWorker)

func WithExporter(e Exporter) Option {
	return func(w *ProjectWorker) { w.exporter = e }
}

func WithJournal(r Recorder) Option {
	return func(w *ProjectWorker) { w.journal = r }
}

func WithConverter(c converters.ImageConverter) Option {
	return func(w *ProjectWorker) { w.converter = c }
}

func WithConfig(cfg Config) Option {
	return func(w *ProjectWorker) { w.cfg = cfg }
}

func NewProjectWorker(store *project.Store, adapter classifier.Adapter, log logger.Logger, opts ...Option) *ProjectWorker {
	if log == nil {
		log = logger.NewNop()
	}
	w := &ProjectWorker{
		store:     store,
		adapter:   adapter,
		converter: converters.NewRasterConverter(),
		logger:    log.Named("worker").With(logger.String("project", store.Name())),
		cfg:       Config{Parallelism: 1, Shuffle: true},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.cfg = w.cfg.withDefaults()
	return w
}

// Model returns the current classifier handle, nil when none is built.
func (w *ProjectWorker) Model() *classifier.Handle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.model
}

func (w *ProjectWorker) setModel(h *classifier.Handle, labels []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.model = h
	w.labels = labels
}

// Init eagerly builds a model from whatever images exist and restores the
// last saved weights. Failure is logged and leaves the model unset.
func (w *ProjectWorker) Init(ctx context.Context) {
	h, err := w.buildModel(ctx)
	if err != nil {
		w.logger.Info("No model built at startup", logger.Error(err))
		return
	}
	weights := w.store.Paths().Weights
	if _, err := os.Stat(weights); err != nil {
		return
	}
	if err := w.adapter.Load(ctx, h, weights); err != nil {
		w.logger.Warn("Saved weights do not fit the rebuilt model", logger.Error(err))
		return
	}
	w.logger.Info("Restored saved weights", logger.String("path", weights))
}

// Run consumes commands until a shutdown command arrives or ctx ends.
// Cancelling ctx never interrupts the job in flight.
func (w *ProjectWorker) Run(ctx context.Context, commands queue.CommandSource, results queue.ResultSink) error {
	w.Init(ctx)
	jobCtx := context.WithoutCancel(ctx)

	for {
		cmd, err := commands.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped")
				return nil
			}
			return fmt.Errorf("failed to dequeue command: %w", err)
		}
		if cmd.Job == models.JobShutdown {
			w.logger.Info("Worker received shutdown", logger.String("job_id", cmd.ID))
			return nil
		}

		res := w.Execute(jobCtx, cmd)
		if err := results.Publish(jobCtx, res); err != nil {
			w.logger.Error("Failed to publish result",
				logger.String("job_id", cmd.ID),
				logger.Error(err),
			)
		}
	}
}

// Execute runs one command and always returns exactly one result. Errors
// and panics inside the job become error results.
func (w *ProjectWorker) Execute(ctx context.Context, cmd models.Command) (res models.Result) {
	w.running.Lock()
	defer w.running.Unlock()

	res = models.Result{ID: cmd.ID, Job: cmd.Job, StartedAt: time.Now()}
	ctx = logger.ContextWithJob(ctx, cmd.ID)
	log := logger.FromContext(ctx, w.logger).With(logger.String("job", string(cmd.Job)))
	log.Info("Job started")

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", logger.Any("panic", r), logger.Stack())
			res.Type = models.ResultError
			res.Message = fmt.Sprintf("%v: panic: %v", failureFor(cmd.Job), r)
			res.History = nil
		}
		res.FinishedAt = time.Now()
		if w.journal != nil {
			if err := w.journal.Record(context.WithoutCancel(ctx), res); err != nil {
				log.Warn("Failed to record job", logger.Error(err))
			}
		}
	}()

	var err error
	switch cmd.Job {
	case models.JobTransform:
		err = w.transform(ctx)
	case models.JobBuildModel:
		_, err = w.buildModel(ctx)
	case models.JobTrain:
		res.History, err = w.train(ctx)
	default:
		err = fmt.Errorf("unknown job %q", cmd.Job)
	}

	if err != nil {
		if failure := failureFor(cmd.Job); failure != nil {
			err = fmt.Errorf("%w: %w", failure, err)
		}
		res.Type = models.ResultError
		res.Message = err.Error()
		res.History = nil
		log.Error("Job failed", logger.Error(err))
		return res
	}

	res.Type = models.ResultSuccess
	log.Info("Job finished", logger.Duration("elapsed", time.Since(res.StartedAt)))
	return res
}

func failureFor(job models.JobType) error {
	switch job {
	case models.JobTransform:
		return ErrTransformFailure
	case models.JobBuildModel:
		return ErrBuildFailure
	case models.JobTrain:
		return ErrTrainingFailure
	}
	return nil
}

// transform rebuilds images/ from csv/. Every series is padded to the
// longest series of the whole project before extraction.
func (w *ProjectWorker) transform(ctx context.Context) error {
	paths := w.store.Paths()
	params, err := w.store.TransformParameters()
	if err != nil {
		return err
	}
	method, err := transform.ParseMethod(params.Method)
	if err != nil {
		return err
	}

	stale, err := project.ListLabels(paths.Images)
	if err != nil {
		return err
	}
	for _, label := range stale {
		if err := os.RemoveAll(filepath.Join(paths.Images, label)); err != nil {
			return fmt.Errorf("failed to purge images of %s: %w", label, err)
		}
	}

	labels, err := project.ListLabels(paths.CSV)
	if err != nil {
		return err
	}
	files := make(map[string][]string, len(labels))
	maxRows := 0
	var channels []string
	var reference string
	for _, label := range labels {
		names, err := project.ListFiles(filepath.Join(paths.CSV, label), project.CSVExt)
		if err != nil {
			return err
		}
		files[label] = names
		for _, name := range names {
			src := filepath.Join(paths.CSV, label, name)
			n, err := transform.CountRows(src)
			if err != nil {
				return err
			}
			maxRows = max(maxRows, n)

			header, err := transform.Columns(src)
			if err != nil {
				return err
			}
			selected := selectChannels(header, params.Columns)
			if reference == "" {
				channels, reference = selected, src
			} else if !slices.Equal(channels, selected) {
				return fmt.Errorf("%w: %s has %v, %s has %v", ErrChannelMismatch, src, selected, reference, channels)
			}
		}
	}

	logger.FromContext(ctx, w.logger).Info("Transforming training data",
		logger.Int("labels", len(labels)),
		logger.Int("padded_rows", maxRows),
		logger.String("method", method.String()),
		logger.Int("chunk_size", params.ChunkSize),
		logger.Int("fft_size", params.FFTSize),
	)

	for _, label := range labels {
		outDir := filepath.Join(paths.Images, label)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", outDir, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Parallelism)
		for _, name := range files[label] {
			src := filepath.Join(paths.CSV, label, name)
			dst := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+project.ImageExt)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return w.convert(src, dst, params, method, maxRows)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// selectChannels returns the header entries a series read with columns
// would carry, in header order.
func selectChannels(header, columns []string) []string {
	if len(columns) == 0 {
		return header
	}
	selected := make([]string, 0, len(columns))
	for _, name := range header {
		if slices.Contains(columns, name) {
			selected = append(selected, name)
		}
	}
	return selected
}

func (w *ProjectWorker) convert(src, dst string, params models.TransformParameters, method transform.Method, rows int) error {
	series, err := transform.ReadCSV(src, params.Columns)
	if err != nil {
		return err
	}
	padded, err := series.PadTo(rows)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	fm, err := transform.Extract(padded, method, params.ChunkSize, params.FFTSize)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	return w.converter.Save(fm, dst)
}

// buildModel compiles a classifier sized to the current images/ tree.
func (w *ProjectWorker) buildModel(ctx context.Context) (*classifier.Handle, error) {
	paths := w.store.Paths()
	labels, err := project.ListLabels(paths.Images)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no image labels in %s", paths.Images)
	}

	input, err := w.imageShape(labels)
	if err != nil {
		return nil, err
	}

	params, err := w.store.ModelParameters()
	if err != nil {
		return nil, err
	}
	arch, err := classifier.NewArchitecture(params)
	if err != nil {
		return nil, err
	}

	h, err := w.adapter.Compile(ctx, len(labels), input, arch)
	if err != nil {
		return nil, err
	}
	w.setModel(h, labels)
	logger.FromContext(ctx, w.logger).Info("Built model",
		logger.String("model_id", h.ID),
		logger.Strings("labels", labels),
		logger.String("loss", h.Loss),
	)
	return h, nil
}

// imageShape reads the model input geometry from the first image found.
func (w *ProjectWorker) imageShape(labels []string) (classifier.Shape, error) {
	dir := w.store.Paths().Images
	for _, label := range labels {
		names, err := project.ListFiles(filepath.Join(dir, label), project.ImageExt)
		if err != nil {
			return classifier.Shape{}, err
		}
		if len(names) == 0 {
			continue
		}
		height, width, err := converters.Size(filepath.Join(dir, label, names[0]))
		if err != nil {
			return classifier.Shape{}, err
		}
		return classifier.Shape{Channels: transform.Planes, Height: height, Width: width}, nil
	}
	return classifier.Shape{}, fmt.Errorf("no images in %s", dir)
}

// train fits the current model, rebuilding it first when none exists or
// the label set or image geometry changed since it was built.
func (w *ProjectWorker) train(ctx context.Context) (models.History, error) {
	paths := w.store.Paths()
	labels, err := project.ListLabels(paths.Images)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	h, built := w.model, w.labels
	w.mu.RUnlock()
	stale := h == nil || !slices.Equal(built, labels)
	if !stale {
		input, err := w.imageShape(labels)
		stale = err != nil || input != h.Input
	}
	if stale {
		if h, err = w.buildModel(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", classifier.ErrNoModel, err)
		}
	}
	if h.NumClasses < 2 {
		return nil, fmt.Errorf("%w: training data only contains one class", classifier.ErrNoModel)
	}

	params, err := w.store.ModelParameters()
	if err != nil {
		return nil, err
	}
	history, err := w.adapter.Fit(ctx, h, paths.Images, labels, classifier.FitOptions{
		Epochs:    params.Epochs,
		BatchSize: params.BatchSize,
		Shuffle:   w.cfg.Shuffle,
		Seed:      w.cfg.Seed,
		OnEpoch: func(epoch int, metrics map[string]float64) {
			logger.FromContext(ctx, w.logger).Debug("Epoch finished",
				logger.Int("epoch", epoch),
				logger.Float64("loss", metrics[models.MetricLoss]),
				logger.Float64("accuracy", metrics[models.MetricAccuracy]),
			)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := w.adapter.Save(ctx, h, paths.Weights); err != nil {
		return nil, err
	}
	if w.exporter != nil {
		if _, err := w.exporter.Export(ctx, paths.Weights); err != nil {
			logger.FromContext(ctx, w.logger).Warn("Failed to export weights", logger.Error(err))
		}
	}
	return history, nil
}
