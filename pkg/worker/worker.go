package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/timechange/pkg/logger"
)

// Worker is a long running consumer of project commands.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	// Done is closed once the worker has stopped consuming.
	Done() <-chan struct{}
}

// Config tunes how jobs run.
type Config struct {
	// Parallelism bounds concurrent file conversions within one label.
	Parallelism int
	// Shuffle reshuffles training batches every epoch.
	Shuffle bool
	// Seed fixes the shuffle order; zero means time based.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	return c
}

// BaseWorker holds the asynq plumbing shared by queue-driven workers.
type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func (w *BaseWorker) Done() <-chan struct{} {
	return w.stopChan
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		w.server.Shutdown()
		close(w.stopChan)
	})
	return nil
}
