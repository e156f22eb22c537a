package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/timechange/internal/models"
)

// Task types, one per job.
const (
	TaskTypeTransform  = "project:transform"
	TaskTypeBuildModel = "project:build_model"
	TaskTypeTrain      = "project:train"
	TaskTypeShutdown   = "project:shutdown"
)

// QueueName is the only asynq queue; the server runs it with concurrency 1
// so commands keep their single consumer semantics.
const QueueName = "timechange"

// Config describes the redis transport shared by cmd/server and cmd/worker.
type Config struct {
	RedisAddr      string        `yaml:"redis_addr"`
	RedisDB        int           `yaml:"redis_db"`
	ResultKey      string        `yaml:"result_key"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

func (c Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, DB: c.RedisDB}
}

// ServerConfig is the asynq server setup for the project worker. Shutdown
// waits up to ProcessTimeout for the job in flight.
func (c Config) ServerConfig() asynq.Config {
	return asynq.Config{
		Concurrency:     1,
		Queues:          map[string]int{QueueName: 1},
		StrictPriority:  true,
		ShutdownTimeout: c.ProcessTimeout,
	}
}

// TaskType maps a job onto its asynq task type.
func TaskType(job models.JobType) (string, error) {
	switch job {
	case models.JobTransform:
		return TaskTypeTransform, nil
	case models.JobBuildModel:
		return TaskTypeBuildModel, nil
	case models.JobTrain:
		return TaskTypeTrain, nil
	case models.JobShutdown:
		return TaskTypeShutdown, nil
	default:
		return "", fmt.Errorf("unknown job %q", job)
	}
}

// NewCommandTask wraps cmd in an asynq task. Jobs are not retried: a failed
// job already produced its error result.
func NewCommandTask(cmd models.Command, timeout time.Duration) (*asynq.Task, error) {
	typ, err := TaskType(cmd.Job)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.TaskID(cmd.ID),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(typ, payload, opts...), nil
}

// ParseCommandTask recovers the command carried by t.
func ParseCommandTask(t *asynq.Task) (models.Command, error) {
	var cmd models.Command
	if err := json.Unmarshal(t.Payload(), &cmd); err != nil {
		return cmd, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if !cmd.Job.Valid() {
		return cmd, fmt.Errorf("unknown job %q in task %s", cmd.Job, t.Type())
	}
	return cmd, nil
}

// AsynqCommands enqueues commands as asynq tasks for cmd/worker.
type AsynqCommands struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewAsynqCommands(cfg Config) *AsynqCommands {
	return &AsynqCommands{
		client:  asynq.NewClient(cfg.RedisOpt()),
		timeout: cfg.ProcessTimeout,
	}
}

func (q *AsynqCommands) Enqueue(ctx context.Context, cmd models.Command) error {
	t, err := NewCommandTask(cmd, q.timeout)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *AsynqCommands) Close() error {
	return q.client.Close()
}
