package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/timechange/pkg/logger"
)

const (
	QueueModeMemory = "memory"
	QueueModeRedis  = "redis"
)

// Config is the process configuration of cmd/server and cmd/worker.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Project    ProjectConfig    `yaml:"project"`
	Log        logger.Config    `yaml:"log"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Journal    JournalConfig    `yaml:"journal"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	Mode         string   `yaml:"mode"`
	AllowOrigins []string `yaml:"allow_origins"`
	// MaxUploadMB bounds one multipart CSV upload.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

type ProjectConfig struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

type QueueConfig struct {
	// Mode is memory (worker in process) or redis (cmd/worker over asynq).
	Mode           string        `yaml:"mode"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisDB        int           `yaml:"redis_db"`
	ResultKey      string        `yaml:"result_key"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

type WorkerConfig struct {
	// Parallelism bounds concurrent file conversions within one label.
	Parallelism int   `yaml:"parallelism"`
	Shuffle     bool  `yaml:"shuffle"`
	Seed        int64 `yaml:"seed"`
}

type ClassifierConfig struct {
	Backend  string        `yaml:"backend"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Type      string        `yaml:"type"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

type JournalConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			Mode:         "release",
			AllowOrigins: []string{"*"},
			MaxUploadMB:  64,
		},
		Project: ProjectConfig{Name: "default", Parent: "projects"},
		Log: logger.Config{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
		Queue: QueueConfig{
			Mode:      QueueModeMemory,
			RedisAddr: "localhost:6379",
			ResultKey: "timechange:results",
		},
		Worker:     WorkerConfig{Parallelism: 4, Shuffle: true},
		Classifier: ClassifierConfig{Backend: "local", Timeout: 30 * time.Minute},
		Storage:    StorageConfig{Type: "none"},
		Journal:    JournalConfig{Enabled: true},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// TIMECHANGE_* environment overrides. A missing file is not an error when
// path is empty.
func Load(path string) (*Config, error) {
	loadEnvFile()
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if data, err := os.ReadFile("config.yaml"); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config.yaml: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"TIMECHANGE_SERVER_ADDR":         &c.Server.Addr,
		"TIMECHANGE_SERVER_MODE":         &c.Server.Mode,
		"TIMECHANGE_PROJECT_NAME":        &c.Project.Name,
		"TIMECHANGE_PROJECT_PARENT":      &c.Project.Parent,
		"TIMECHANGE_LOG_LEVEL":           &c.Log.Level,
		"TIMECHANGE_LOG_ENCODING":        &c.Log.Encoding,
		"TIMECHANGE_QUEUE_MODE":          &c.Queue.Mode,
		"TIMECHANGE_REDIS_ADDR":          &c.Queue.RedisAddr,
		"TIMECHANGE_CLASSIFIER_BACKEND":  &c.Classifier.Backend,
		"TIMECHANGE_CLASSIFIER_ENDPOINT": &c.Classifier.Endpoint,
		"TIMECHANGE_STORAGE_TYPE":        &c.Storage.Type,
		"TIMECHANGE_STORAGE_DIR":         &c.Storage.Dir,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("TIMECHANGE_REDIS_DB"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid TIMECHANGE_REDIS_DB: %w", err)
		}
		c.Queue.RedisDB = n
	}
	if v, ok := os.LookupEnv("TIMECHANGE_WORKER_PARALLELISM"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid TIMECHANGE_WORKER_PARALLELISM: %w", err)
		}
		c.Worker.Parallelism = n
	}
	if v, ok := os.LookupEnv("TIMECHANGE_JOURNAL_ENABLED"); ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("invalid TIMECHANGE_JOURNAL_ENABLED: %w", err)
		}
		c.Journal.Enabled = b
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	switch c.Queue.Mode {
	case QueueModeMemory, QueueModeRedis:
	default:
		return fmt.Errorf("unknown queue.mode %q", c.Queue.Mode)
	}
	if c.Queue.Mode == QueueModeRedis && c.Queue.RedisAddr == "" {
		return fmt.Errorf("queue.redis_addr is required in redis mode")
	}
	if c.Worker.Parallelism < 1 {
		return fmt.Errorf("worker.parallelism must be at least 1")
	}
	return nil
}
