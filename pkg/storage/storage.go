package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/storage/local"
	"github.com/feichai0017/timechange/pkg/storage/minio"
	"github.com/feichai0017/timechange/pkg/storage/s3"
)

// StorageType selects where trained weights are exported.
type StorageType string

const (
	StorageTypeNone  StorageType = "none"
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage keeps exported artifacts outside the project directory.
type Storage interface {
	// Store writes the content of reader under key and returns the key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the artifact stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the artifact stored under key.
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes artifacts under prefix last modified before threshold.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error
}

// Config selects the export backend. S3 and MinIO buckets and credentials
// come from the environment, see config.GetS3Config and config.GetMinioConfig.
type Config struct {
	Type StorageType `yaml:"type"`
	// Dir is the target directory of the local backend.
	Dir string `yaml:"dir"`
	// Retention, when positive, prunes exports older than this after each export.
	Retention time.Duration `yaml:"retention"`
}

// NewStorage creates the configured backend. StorageTypeNone and an empty
// type return a nil Storage, which disables export.
func NewStorage(ctx context.Context, cfg Config, log logger.Logger) (Storage, error) {
	switch cfg.Type {
	case "", StorageTypeNone:
		return nil, nil
	case StorageTypeLocal:
		return local.NewDirStorage(cfg.Dir, log)
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, config.GetS3Config(), log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, config.GetMinioConfig(), log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// WeightsPrefix is the key prefix of every weights export of a project.
func WeightsPrefix(project string) string {
	return path.Join(project, "weights") + "/"
}

// WeightsKey names one export; exports are versioned by time even though the
// project keeps only latest.h5.
func WeightsKey(project string, at time.Time) string {
	return WeightsPrefix(project) + at.UTC().Format("20060102T150405.000000000Z") + ".h5"
}

// Exporter copies trained weights into a Storage.
type Exporter struct {
	storage   Storage
	project   string
	retention time.Duration
	logger    logger.Logger
	now       func() time.Time
}

func NewExporter(st Storage, project string, retention time.Duration, log logger.Logger) *Exporter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Exporter{
		storage:   st,
		project:   project,
		retention: retention,
		logger:    log.Named("exporter"),
		now:       time.Now,
	}
}

// Export uploads the weights file at path and prunes expired exports.
// Pruning failures are logged, not returned.
func (e *Exporter) Export(ctx context.Context, weightsPath string) (string, error) {
	f, err := os.Open(weightsPath)
	if err != nil {
		return "", fmt.Errorf("failed to open weights: %w", err)
	}
	defer f.Close()

	now := e.now()
	key, err := e.storage.Store(ctx, f, WeightsKey(e.project, now))
	if err != nil {
		return "", err
	}
	e.logger.Info("Exported weights", logger.String("key", key))

	if e.retention > 0 {
		if err := e.storage.CleanupBefore(ctx, WeightsPrefix(e.project), now.Add(-e.retention)); err != nil {
			e.logger.Warn("Failed to prune old exports", logger.Error(err))
		}
	}
	return key, nil
}
