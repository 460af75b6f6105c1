package queue

import (
	"context"
	"sync"
)

// Worker runs a function in its own goroutine each time it is scheduled.
// Scheduling is idempotent: posting while a run is already pending does
// not queue a second run.
type Worker struct {
	fn     func()
	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWorker starts a worker that calls fn for every scheduled run
func NewWorker(ctx context.Context, fn func()) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		fn:     fn,
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Schedule posts a run and reports whether it was newly queued
func (w *Worker) Schedule() bool {
	select {
	case w.kick <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop cancels the worker and waits for a running fn to return
func (w *Worker) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.kick:
			w.fn()
		}
	}
}
