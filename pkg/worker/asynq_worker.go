package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/queue"
)

// AsynqWorker serves project commands enqueued by queue.AsynqCommands.
// The server runs with concurrency 1, so jobs still execute one at a time.
type AsynqWorker struct {
	BaseWorker
	project  *ProjectWorker
	results  queue.ResultSink
	shutdown chan struct{}
	once     sync.Once
}

func NewAsynqWorker(cfg queue.Config, pw *ProjectWorker, results queue.ResultSink, log logger.Logger) *AsynqWorker {
	if log == nil {
		log = logger.NewNop()
	}
	w := &AsynqWorker{
		BaseWorker: BaseWorker{
			server:   asynq.NewServer(cfg.RedisOpt(), cfg.ServerConfig()),
			mux:      asynq.NewServeMux(),
			logger:   log.Named("asynq"),
			stopChan: make(chan struct{}),
		},
		project:  pw,
		results:  results,
		shutdown: make(chan struct{}),
	}
	w.registerHandlers()
	return w
}

func (w *AsynqWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeTransform, w.handleCommand)
	w.mux.HandleFunc(queue.TaskTypeBuildModel, w.handleCommand)
	w.mux.HandleFunc(queue.TaskTypeTrain, w.handleCommand)
	w.mux.HandleFunc(queue.TaskTypeShutdown, w.handleShutdown)
}

// handleCommand never returns the job error to asynq: the failure is
// already delivered as an error result and must not be retried. The job
// runs detached from the task context, so neither the task deadline nor a
// server shutdown interrupts it.
func (w *AsynqWorker) handleCommand(ctx context.Context, t *asynq.Task) error {
	cmd, err := queue.ParseCommandTask(t)
	if err != nil {
		w.logger.Error("Failed to parse task", logger.String("type", t.Type()), logger.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	res := w.project.Execute(context.WithoutCancel(ctx), cmd)
	if err := w.results.Publish(context.WithoutCancel(ctx), res); err != nil {
		w.logger.Error("Failed to publish result", logger.String("job_id", cmd.ID), logger.Error(err))
		return err
	}
	return nil
}

func (w *AsynqWorker) handleShutdown(ctx context.Context, t *asynq.Task) error {
	w.logger.Info("Worker received shutdown")
	w.once.Do(func() { close(w.shutdown) })
	return nil
}

// Start restores the model and begins serving. The worker stops on ctx
// cancellation or on a shutdown command.
func (w *AsynqWorker) Start(ctx context.Context) error {
	w.project.Init(ctx)
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-w.shutdown:
		case <-w.stopChan:
			return
		}
		w.Stop()
	}()
	return nil
}
