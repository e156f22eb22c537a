package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/internal/classifier"
	"github.com/feichai0017/timechange/internal/journal"
	"github.com/feichai0017/timechange/internal/project"
	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/queue"
	"github.com/feichai0017/timechange/pkg/storage"
	"github.com/feichai0017/timechange/pkg/worker"
)

// Project is everything a process needs to work on the configured project.
type Project struct {
	Store   *project.Store
	Journal *journal.Journal
}

func NewLogger(cfg *config.Config, name string) (logger.Logger, error) {
	log, err := logger.NewLogger(
		logger.WithInitialFields(map[string]interface{}{"service": name}),
		logger.FromConfig(cfg.Log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// OpenProject opens the project store and, when enabled, its journal.
func OpenProject(cfg *config.Config, log logger.Logger) (*Project, error) {
	st, err := project.Open(cfg.Project.Name, cfg.Project.Parent, project.WithLogger(log))
	if err != nil {
		return nil, err
	}
	p := &Project{Store: st}
	if cfg.Journal.Enabled {
		if p.Journal, err = journal.Open(st.Paths().Journal); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Project) Close() error {
	if p.Journal != nil {
		return p.Journal.Close()
	}
	return nil
}

// NewWorker assembles the project worker with the configured classifier
// backend, export storage and journal.
func NewWorker(ctx context.Context, cfg *config.Config, p *Project, log logger.Logger) (*worker.ProjectWorker, error) {
	adapter, err := classifier.NewAdapter(classifier.Config{
		Backend: classifier.Backend(cfg.Classifier.Backend),
		Remote: classifier.RemoteConfig{
			Endpoint: cfg.Classifier.Endpoint,
			Timeout:  cfg.Classifier.Timeout,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	opts := []worker.Option{
		worker.WithConfig(worker.Config{
			Parallelism: cfg.Worker.Parallelism,
			Shuffle:     cfg.Worker.Shuffle,
			Seed:        cfg.Worker.Seed,
		}),
	}
	if p.Journal != nil {
		opts = append(opts, worker.WithJournal(p.Journal))
	}

	st, err := storage.NewStorage(ctx, storage.Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Dir:       cfg.Storage.Dir,
		Retention: cfg.Storage.Retention,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if st != nil {
		opts = append(opts, worker.WithExporter(storage.NewExporter(st, p.Store.Name(), cfg.Storage.Retention, log)))
	}

	return worker.NewProjectWorker(p.Store, adapter, log, opts...), nil
}

// QueueConfig maps the app config onto the redis transport settings.
func QueueConfig(cfg *config.Config) queue.Config {
	timeout := cfg.Queue.ProcessTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return queue.Config{
		RedisAddr:      cfg.Queue.RedisAddr,
		RedisDB:        cfg.Queue.RedisDB,
		ResultKey:      cfg.Queue.ResultKey,
		ProcessTimeout: timeout,
	}
}

// RedisResults opens the shared result list used in redis mode.
func RedisResults(qc queue.Config) *queue.RedisResults {
	client := redis.NewClient(&redis.Options{Addr: qc.RedisAddr, DB: qc.RedisDB})
	return queue.NewRedisResults(client, qc.ResultKey)
}
