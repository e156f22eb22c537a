package worker

import (
	"context"
	"sync"

	"github.com/feichai0017/timechange/pkg/queue"
)

// Loop runs a ProjectWorker in process over a command and a result queue.
type Loop struct {
	project  *ProjectWorker
	commands queue.CommandSource
	results  queue.ResultSink

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func NewLoop(pw *ProjectWorker, commands queue.CommandSource, results queue.ResultSink) *Loop {
	return &Loop{
		project:  pw,
		commands: commands,
		results:  results,
		done:     make(chan struct{}),
	}
}

func (l *Loop) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)
	go func() {
		defer close(l.done)
		l.err = l.project.Run(ctx, l.commands, l.results)
	}()
	return nil
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stop stops dequeuing, waits for the job in flight and returns the loop error.
func (l *Loop) Stop() error {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	if l.cancel == nil {
		return nil
	}
	<-l.done
	return l.err
}
