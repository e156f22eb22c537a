package queue

import (
	"context"

	"github.com/feichai0017/timechange/internal/models"
)

// CommandSink accepts commands for the worker.
type CommandSink interface {
	Enqueue(ctx context.Context, cmd models.Command) error
}

// CommandSource hands commands to the single worker, oldest first.
type CommandSource interface {
	Dequeue(ctx context.Context) (models.Command, error)
}

// ResultSink accepts results produced by the worker.
type ResultSink interface {
	Publish(ctx context.Context, res models.Result) error
}

// ResultSource yields results in completion order. Poll returns nil, nil
// when nothing is pending.
type ResultSource interface {
	Poll(ctx context.Context) (*models.Result, error)
	Wait(ctx context.Context) (*models.Result, error)
}

// MemoryBroker connects a manager and a worker living in one process.
type MemoryBroker struct {
	commands *FIFO[models.Command]
	results  *FIFO[models.Result]
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		commands: NewFIFO[models.Command](),
		results:  NewFIFO[models.Result](),
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, cmd models.Command) error {
	b.commands.Push(cmd)
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (models.Command, error) {
	return b.commands.Pop(ctx)
}

func (b *MemoryBroker) Publish(ctx context.Context, res models.Result) error {
	b.results.Push(res)
	return nil
}

func (b *MemoryBroker) Poll(ctx context.Context) (*models.Result, error) {
	res, ok := b.results.TryPop()
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (b *MemoryBroker) Wait(ctx context.Context) (*models.Result, error) {
	res, err := b.results.Pop(ctx)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Pending reports how many commands have not been picked up yet.
func (b *MemoryBroker) Pending() int {
	return b.commands.Len()
}
