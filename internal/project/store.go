package project

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/feichai0017/timechange/internal/models"
	"github.com/feichai0017/timechange/internal/transform"
	"github.com/feichai0017/timechange/internal/utils/validator"
	"github.com/feichai0017/timechange/pkg/logger"
)

var (
	// ErrCorruptProject means an existing project root failed layout validation.
	ErrCorruptProject = errors.New("corrupt project")
	// ErrFileNotFound means a training file is not registered under the label.
	ErrFileNotFound = errors.New("training file not found")
	// ErrInvalidName rejects labels and file names that are not a single path element.
	ErrInvalidName = errors.New("invalid name")
)

const (
	CSVDir    = "csv"
	ImagesDir = "images"
	ModelsDir = "models"

	CSVExt   = ".csv"
	ImageExt = ".png"
	ModelExt = ".h5"

	WeightsFile = "latest" + ModelExt
	JournalFile = "journal.sqlite"
)

// Paths are the absolute locations a project owns.
type Paths struct {
	Root       string
	CSV        string
	Images     string
	Models     string
	Parameters string
	Transform  string
	Weights    string
	Journal    string
}

func newPaths(root string) Paths {
	return Paths{
		Root:       root,
		CSV:        filepath.Join(root, CSVDir),
		Images:     filepath.Join(root, ImagesDir),
		Models:     filepath.Join(root, ModelsDir),
		Parameters: filepath.Join(root, ParametersFile),
		Transform:  filepath.Join(root, TransformFile),
		Weights:    filepath.Join(root, ModelsDir, WeightsFile),
		Journal:    filepath.Join(root, JournalFile),
	}
}

// Store owns the on-disk state of one project. The caller side is the only
// writer of csv/ and the config files; images/ and models/ belong to the worker.
type Store struct {
	name   string
	paths  Paths
	logger logger.Logger

	mu    sync.RWMutex
	index map[string][]string
}

// Option configures Open.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens the project name under parent, creating a fresh skeleton when
// the root does not exist. An existing root must pass layout validation or
// Open fails with ErrCorruptProject.
func Open(name, parent string, opts ...Option) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	root, err := filepath.Abs(filepath.Join(parent, name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	s := &Store{
		name:   name,
		paths:  newPaths(root),
		logger: logger.NewNop(),
		index:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.String("project", root))

	switch _, err := os.Stat(root); {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.create(); err != nil {
			return nil, err
		}
		s.logger.Info("Created project")
	case err != nil:
		return nil, fmt.Errorf("failed to stat project root: %w", err)
	default:
		if err := s.validate(); err != nil {
			return nil, err
		}
		if err := s.loadIndex(); err != nil {
			return nil, err
		}
		s.logger.Info("Opened project", logger.Int("labels", len(s.index)))
	}

	return s, nil
}

func (s *Store) create() error {
	for _, dir := range []string{s.paths.CSV, s.paths.Images, s.paths.Models} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := writeDefaultParameters(s.paths.Parameters); err != nil {
		return fmt.Errorf("failed to write %s: %w", ParametersFile, err)
	}
	if err := writeDefaultTransform(s.paths.Transform); err != nil {
		return fmt.Errorf("failed to write %s: %w", TransformFile, err)
	}
	return nil
}

func (s *Store) validate() error {
	res := validator.NewLayoutValidator(s.logger, nil).Validate(s.paths.Root)
	if !res.IsValid {
		return fmt.Errorf("%w: %s", ErrCorruptProject, res.Summary())
	}
	if _, err := os.Stat(s.paths.Transform); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Restoring default transform configuration")
		if err := writeDefaultTransform(s.paths.Transform); err != nil {
			return fmt.Errorf("failed to write %s: %w", TransformFile, err)
		}
	}
	return nil
}

func (s *Store) loadIndex() error {
	labels, err := ListLabels(s.paths.CSV)
	if err != nil {
		return err
	}
	for _, label := range labels {
		files, err := ListFiles(filepath.Join(s.paths.CSV, label), CSVExt)
		if err != nil {
			return err
		}
		s.index[label] = files
	}
	return nil
}

// Name returns the project name.
func (s *Store) Name() string {
	return s.name
}

// Paths returns the project locations.
func (s *Store) Paths() Paths {
	return s.paths
}

// AddTrainingFile copies source into csv/<label>/ under its base name. A file
// with the same name is replaced.
func (s *Store) AddTrainingFile(label, source string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open training file: %w", err)
	}
	defer in.Close()

	return s.AddTrainingData(label, filepath.Base(source), in)
}

// AddTrainingData writes r into csv/<label>/<filename>.
func (s *Store) AddTrainingData(label, filename string, r io.Reader) error {
	if err := checkName(label); err != nil {
		return err
	}
	filename = filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(filename), CSVExt) {
		return fmt.Errorf("training file %q must have a %s extension", filename, CSVExt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.paths.CSV, label)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create label directory: %w", err)
	}

	dst := filepath.Join(dir, filename)
	tmp, err := os.CreateTemp(dir, ".upload-*"+CSVExt)
	if err != nil {
		return fmt.Errorf("failed to create training file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy training file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write training file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store training file: %w", err)
	}

	s.index[label] = insertSorted(s.index[label], filename)
	s.logger.Info("Added training file",
		logger.String("label", label),
		logger.String("file", filename),
	)
	return nil
}

// RemoveTrainingFile deletes csv/<label>/<filename>. The label directory is
// kept even when it becomes empty.
func (s *Store) RemoveTrainingFile(label, filename string) error {
	if err := checkName(label); err != nil {
		return err
	}
	if err := checkName(filename); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.paths.CSV, label, filename)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Training file not found",
				logger.String("label", label),
				logger.String("file", filename),
			)
			return fmt.Errorf("%w: %s under label %s", ErrFileNotFound, filename, label)
		}
		return fmt.Errorf("failed to remove training file: %w", err)
	}

	if files, ok := s.index[label]; ok {
		s.index[label] = removeSorted(files, filename)
	}
	s.logger.Info("Removed training file",
		logger.String("label", label),
		logger.String("file", filename),
	)
	return nil
}

// TrainingFiles returns the files registered under label, sorted.
func (s *Store) TrainingFiles(label string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.index[label]...)
}

// CSVLabels returns the sorted label directories under csv/.
func (s *Store) CSVLabels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := make([]string, 0, len(s.index))
	for label := range s.index {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// ImageLabels returns the sorted label directories under images/.
func (s *Store) ImageLabels() ([]string, error) {
	return ListLabels(s.paths.Images)
}

// CSVColumns returns the header of one CSV file.
func (s *Store) CSVColumns(path string) ([]string, error) {
	return transform.Columns(path)
}

// SetColumns selects the columns read by the next transform. An empty list
// selects every column.
func (s *Store) SetColumns(columns []string) error {
	return s.SetTransformParameters(map[string]any{KeyColumns: strings.Join(columns, ",")})
}

// SetTransformParameters stores overrides into the DEFAULT section of
// transform.conf. Known keys are checked before anything is written.
func (s *Store) SetTransformParameters(params map[string]any) error {
	values := make(map[string]string, len(params))
	for k, v := range params {
		str, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", k, err)
		}
		switch k {
		case KeyMethod:
			if _, err := transform.ParseMethod(str); err != nil {
				return err
			}
		case KeyChunkSize, KeyFFTSize:
			if n, err := cast.ToIntE(str); err != nil || n <= 0 {
				return fmt.Errorf("%w: %s must be a positive integer, got %q", transform.ErrInvalidParameters, k, str)
			}
		}
		values[k] = str
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSection(s.paths.Transform, "DEFAULT", values)
}

// SetModelParameters stores overrides into parameters.conf. Architecture
// keys go to the convolutional_basic section, everything else to DEFAULT.
func (s *Store) SetModelParameters(params map[string]any) error {
	defaults := make(map[string]string)
	arch := make(map[string]string)
	for k, v := range params {
		str, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", k, err)
		}
		switch k {
		case KeyNumBlocks, KeyNumFilters, KeyLearningRate:
			arch[k] = str
		default:
			defaults[k] = str
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(defaults) > 0 {
		if err := updateSection(s.paths.Parameters, "DEFAULT", defaults); err != nil {
			return err
		}
	}
	if len(arch) > 0 {
		return updateSection(s.paths.Parameters, ConvolutionalBasic, arch)
	}
	return nil
}

// TransformParameters reads transform.conf.
func (s *Store) TransformParameters() (models.TransformParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LoadTransformParameters(s.paths.Transform)
}

// ModelParameters reads parameters.conf.
func (s *Store) ModelParameters() (models.ModelParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LoadModelParameters(s.paths.Parameters)
}

// ListLabels returns the sorted subdirectory names of dir.
func ListLabels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	labels := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			labels = append(labels, e.Name())
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// ListFiles returns the sorted names of the files in dir carrying ext.
// Hidden files, such as interrupted uploads, are skipped.
func ListFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func insertSorted(files []string, name string) []string {
	i := sort.SearchStrings(files, name)
	if i < len(files) && files[i] == name {
		return files
	}
	files = append(files, "")
	copy(files[i+1:], files[i:])
	files[i] = name
	return files
}

func removeSorted(files []string, name string) []string {
	i := sort.SearchStrings(files, name)
	if i < len(files) && files[i] == name {
		return append(files[:i], files[i+1:]...)
	}
	return files
}
