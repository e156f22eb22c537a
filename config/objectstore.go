package config

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cast"
)

// ObjectStoreConfig is the bucket a weights export goes to. It is read from
// the environment (or .env) because it carries credentials.
type ObjectStoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// KeyPrefix is prepended to every object key, without a trailing slash.
	KeyPrefix string
}

var (
	s3Once      sync.Once
	s3Config    *ObjectStoreConfig
	minioOnce   sync.Once
	minioConfig *ObjectStoreConfig
)

// GetS3Config reads AWS_S3_BUCKET_NAME, AWS_REGION, AWS_ENDPOINT,
// AWS_ACCESS_KEY, AWS_SECRET_KEY and AWS_S3_KEY_PREFIX.
func GetS3Config() *ObjectStoreConfig {
	s3Once.Do(func() {
		loadEnvFile()
		s3Config = &ObjectStoreConfig{
			Bucket:    os.Getenv("AWS_S3_BUCKET_NAME"),
			Region:    os.Getenv("AWS_REGION"),
			Endpoint:  os.Getenv("AWS_ENDPOINT"),
			AccessKey: os.Getenv("AWS_ACCESS_KEY"),
			SecretKey: os.Getenv("AWS_SECRET_KEY"),
			UseSSL:    true,
			KeyPrefix: trimPrefix(os.Getenv("AWS_S3_KEY_PREFIX")),
		}
	})
	return s3Config
}

// GetMinioConfig reads the MINIO_* counterparts of GetS3Config plus
// MINIO_USE_SSL.
func GetMinioConfig() *ObjectStoreConfig {
	minioOnce.Do(func() {
		loadEnvFile()
		minioConfig = &ObjectStoreConfig{
			Bucket:    os.Getenv("MINIO_BUCKET_NAME"),
			Region:    os.Getenv("MINIO_REGION"),
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    cast.ToBool(os.Getenv("MINIO_USE_SSL")),
			KeyPrefix: trimPrefix(os.Getenv("MINIO_KEY_PREFIX")),
		}
	})
	return minioConfig
}

// Key returns the object key of an artifact key.
func (c *ObjectStoreConfig) Key(key string) string {
	if c.KeyPrefix == "" {
		return key
	}
	return c.KeyPrefix + "/" + strings.TrimPrefix(key, "/")
}

func trimPrefix(p string) string {
	return strings.Trim(p, "/")
}
