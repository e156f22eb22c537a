package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/pkg/logger"
)

// deleteBatch is the DeleteObjects limit.
const deleteBatch = 1000

// S3Storage exports artifacts to an S3 bucket, or to an S3 compatible
// endpoint when AWS_ENDPOINT is set.
type S3Storage struct {
	client *s3.Client
	cfg    *config.ObjectStoreConfig
	logger logger.Logger
}

func NewS3Storage(ctx context.Context, cfg *config.ObjectStoreConfig, log logger.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %s is not reachable: %w", cfg.Bucket, err)
	}

	log.Info("Exporting to S3",
		logger.String("bucket", cfg.Bucket),
		logger.String("region", cfg.Region),
		logger.String("prefix", cfg.KeyPrefix),
	)
	return &S3Storage{client: client, cfg: cfg, logger: log}, nil
}

func (s *S3Storage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	objectKey := s.cfg.Key(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(objectKey),
		Body:        reader,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put s3://%s/%s: %w", s.cfg.Bucket, objectKey, err)
	}
	return objectKey, nil
}

func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CleanupBefore collects the expired keys under prefix and removes them in
// DeleteObjects batches.
func (s *S3Storage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error {
	var expired []types.ObjectIdentifier
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Key(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(threshold) {
				expired = append(expired, types.ObjectIdentifier{Key: obj.Key})
			}
		}
	}

	for start := 0; start < len(expired); start += deleteBatch {
		batch := expired[start:min(start+deleteBatch, len(expired))]
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.cfg.Bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete expired objects: %w", err)
		}
		for _, e := range out.Errors {
			s.logger.Warn("Expired object was not deleted",
				logger.String("key", aws.ToString(e.Key)),
				logger.String("reason", aws.ToString(e.Message)),
			)
		}
		s.logger.Info("Pruned expired exports",
			logger.String("prefix", prefix),
			logger.Int("count", len(batch)-len(out.Errors)),
		)
	}
	return nil
}
