package remote

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDispatcherRunsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(8, zap.NewNop())
	d.Start(ctx)

	var ran atomic.Int32
	done := make(chan struct{})
	d.Enqueue("first", func(context.Context) { ran.Add(1) })
	d.Enqueue("second", func(context.Context) {
		ran.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never ran queued tasks")
	}
	assert.Equal(t, int32(2), ran.Load())

	cancel()
	d.Wait()
}

func TestDispatcherEnqueueNeverBlocksWhenFull(t *testing.T) {
	// Never started, so the queue only fills.
	d := NewDispatcher(2, zap.NewNop())

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Enqueue("task", func(context.Context) {})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestDispatcherSurvivesPanickingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(8, zap.NewNop())
	d.Start(ctx)

	done := make(chan struct{})
	d.Enqueue("bad", func(context.Context) { panic("boom") })
	d.Enqueue("good", func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after a panicking task")
	}

	cancel()
	d.Wait()
}

func TestDispatcherDrainsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(8, zap.NewNop())

	var ran atomic.Int32
	d.Enqueue("queued", func(context.Context) { ran.Add(1) })

	d.Start(ctx)
	cancel()
	d.Wait()

	assert.Equal(t, int32(1), ran.Load())
}
