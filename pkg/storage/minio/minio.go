package minio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/pkg/logger"
)

// MinioStorage exports artifacts to a MinIO bucket, creating it on first use.
type MinioStorage struct {
	client *minio.Client
	cfg    *config.ObjectStoreConfig
	logger logger.Logger
}

func NewMinioStorage(ctx context.Context, cfg *config.ObjectStoreConfig, log logger.Logger) (*MinioStorage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket must be configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info("Created bucket", logger.String("bucket", cfg.Bucket))
	}

	return &MinioStorage{client: client, cfg: cfg, logger: log}, nil
}

func (m *MinioStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	objectKey := m.cfg.Key(key)
	info, err := m.client.PutObject(ctx, m.cfg.Bucket, objectKey, reader, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to put %s/%s: %w", m.cfg.Bucket, objectKey, err)
	}
	m.logger.Debug("Stored object", logger.String("key", info.Key), logger.Int64("size", info.Size))
	return objectKey, nil
}

func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, m.cfg.Key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return obj, nil
}

func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.cfg.Bucket, m.cfg.Key(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CleanupBefore streams the expired objects under prefix into RemoveObjects.
func (m *MinioStorage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listed := m.client.ListObjects(ctx, m.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    m.cfg.Key(prefix),
		Recursive: true,
	})
	expired := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	go func() {
		defer close(expired)
		for obj := range listed {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			if !obj.LastModified.Before(threshold) {
				continue
			}
			select {
			case expired <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := 0
	for rerr := range m.client.RemoveObjects(ctx, m.cfg.Bucket, expired, minio.RemoveObjectsOptions{}) {
		failed++
		m.logger.Warn("Expired object was not deleted",
			logger.String("key", rerr.ObjectName),
			logger.Error(rerr.Err),
		)
	}

	select {
	case err := <-listErr:
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	default:
	}
	if failed > 0 {
		return fmt.Errorf("%d expired objects under %s were not deleted", failed, prefix)
	}
	return nil
}
