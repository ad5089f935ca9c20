package remote

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Dispatcher runs remote-sync commands off the capture path. Enqueue
// never blocks: when the queue is full the task is dropped and logged,
// matching the no-retry contract of the sync client.
type Dispatcher struct {
	tasks  chan task
	logger *zap.Logger

	startOnce sync.Once
	done      chan struct{}
}

type task struct {
	name string
	run  func(ctx context.Context)
}

func NewDispatcher(queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		tasks:  make(chan task, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the single worker. Attach-once; later calls no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.work(ctx)
	})
}

func (d *Dispatcher) work(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case t, ok := <-d.tasks:
			if !ok {
				return
			}
			d.run(ctx, t)
		case <-ctx.Done():
			// Drain whatever is already queued, then stop.
			for {
				select {
				case t, ok := <-d.tasks:
					if !ok {
						return
					}
					d.run(context.WithoutCancel(ctx), t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("remote task panicked",
				zap.String("task", t.name),
				zap.Any("panic", r),
			)
		}
	}()
	t.run(ctx)
}

// Enqueue schedules a remote-sync command. The caller never waits on its
// outcome.
func (d *Dispatcher) Enqueue(name string, run func(ctx context.Context)) {
	select {
	case d.tasks <- task{name: name, run: run}:
	default:
		d.logger.Warn("remote sync queue full, dropping task",
			zap.String("task", name),
		)
	}
}

// Wait blocks until the worker has exited after context cancellation.
func (d *Dispatcher) Wait() {
	<-d.done
}
