package project

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/timechange/internal/journal"
	"github.com/feichai0017/timechange/internal/models"
	store "github.com/feichai0017/timechange/internal/project"
	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/queue"
)

var (
	// ErrFileTooLarge rejects uploads above the configured limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnknownJob rejects jobs callers may not submit.
	ErrUnknownJob = errors.New("unknown job")
)

// Manager is the caller side of a project: it owns csv/ and the config
// files through the embedded Store and talks to the worker only through
// the command and result queues.
type Manager struct {
	*store.Store

	commands queue.CommandSink
	results  queue.ResultSource
	journal  *journal.Journal
	logger   logger.Logger
	config   *ManagerConfig
}

type ManagerConfig struct {
	MaxFileSize int64
}

type Option func(*Manager)

// WithJournal lets the manager answer history queries.
func WithJournal(j *journal.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

func WithConfig(cfg *ManagerConfig) Option {
	return func(m *Manager) { m.config = cfg }
}

func NewManager(st *store.Store, commands queue.CommandSink, results queue.ResultSource, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	m := &Manager{
		Store:    st,
		commands: commands,
		results:  results,
		logger:   log.Named("manager").With(logger.String("project", st.Name())),
		config:   &ManagerConfig{MaxFileSize: 64 << 20},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConvertAllCSV asks the worker to rebuild images/ from csv/.
func (m *Manager) ConvertAllCSV(ctx context.Context) (string, error) {
	return m.Submit(ctx, models.JobTransform)
}

// BuildModel asks the worker to compile a classifier for the current images.
func (m *Manager) BuildModel(ctx context.Context) (string, error) {
	return m.Submit(ctx, models.JobBuildModel)
}

// Train asks the worker to fit the current classifier.
func (m *Manager) Train(ctx context.Context) (string, error) {
	return m.Submit(ctx, models.JobTrain)
}

// Shutdown asks the worker to exit once the commands before it are done.
func (m *Manager) Shutdown(ctx context.Context) error {
	_, err := m.enqueue(ctx, models.JobShutdown)
	return err
}

func (m *Manager) Submit(ctx context.Context, job models.JobType) (string, error) {
	if !job.Valid() || job == models.JobShutdown {
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	return m.enqueue(ctx, job)
}

func (m *Manager) enqueue(ctx context.Context, job models.JobType) (string, error) {
	cmd := models.Command{
		ID:        uuid.New().String(),
		Job:       job,
		CreatedAt: time.Now(),
	}
	if err := m.commands.Enqueue(ctx, cmd); err != nil {
		m.logger.Error("Failed to enqueue command", logger.String("job", string(job)), logger.Error(err))
		return "", fmt.Errorf("failed to enqueue %s: %w", job, err)
	}
	m.logger.Info("Enqueued command", logger.String("job_id", cmd.ID), logger.String("job", string(job)))
	return cmd.ID, nil
}

func (m *Manager) PollResult(ctx context.Context) (*models.Result, error) {
	return m.results.Poll(ctx)
}

func (m *Manager) WaitResult(ctx context.Context) (*models.Result, error) {
	return m.results.Wait(ctx)
}

// CheckUpload rejects an upload that AddUpload would refuse, without
// touching the project.
func (m *Manager) CheckUpload(header *multipart.FileHeader) error {
	if m.config.MaxFileSize > 0 && header.Size > m.config.MaxFileSize {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, header.Filename, header.Size, m.config.MaxFileSize)
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), store.CSVExt) {
		return fmt.Errorf("%w: %q is not a %s file", store.ErrInvalidName, header.Filename, store.CSVExt)
	}
	return nil
}

// AddUpload stores one multipart CSV upload under label.
func (m *Manager) AddUpload(label string, header *multipart.FileHeader) error {
	if err := m.CheckUpload(header); err != nil {
		return err
	}

	f, err := header.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	return m.AddTrainingData(label, header.Filename, f)
}

// Columns returns the header of a registered training file.
func (m *Manager) Columns(label, filename string) ([]string, error) {
	if !slices.Contains(m.TrainingFiles(label), filename) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrFileNotFound, label, filename)
	}
	return m.CSVColumns(filepath.Join(m.Paths().CSV, label, filename))
}

func (m *Manager) History(ctx context.Context, limit int) ([]models.Result, error) {
	if m.journal == nil {
		return []models.Result{}, nil
	}
	return m.journal.Recent(ctx, limit)
}

func (m *Manager) JobResult(ctx context.Context, id string) (*models.Result, error) {
	if m.journal == nil {
		return nil, nil
	}
	return m.journal.Get(ctx, id)
}
