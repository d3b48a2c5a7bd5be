// Package sequence provides a serial task runner. Every piece of gate state
// that belongs to one document is only touched from tasks running on that
// document's runner, so no locks are needed around it.
package sequence

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when posting to a runner that has been closed.
var ErrClosed = errors.New("sequence: runner closed")

// Poster accepts tasks for later, ordered execution.
type Poster interface {
	// Post queues task. It reports false when the task will never run.
	Post(task func()) bool
}

// Inline runs every task immediately on the caller's goroutine.
type Inline struct{}

// Post runs task synchronously.
func (Inline) Post(task func()) bool {
	task()
	return true
}

// TaskRunner executes posted tasks one at a time, in FIFO order, on a single
// goroutine. The queue is unbounded so tasks may post further tasks.
type TaskRunner struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts a runner.
func New() *TaskRunner {
	r := &TaskRunner{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Post queues task. Tasks posted after Close are dropped.
func (r *TaskRunner) Post(task func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, task)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// PostAndWait queues task and blocks until it has run or ctx is done. It must
// not be called from a task on the same runner.
func (r *TaskRunner) PostAndWait(ctx context.Context, task func()) error {
	ran := make(chan struct{})
	if !r.Post(func() {
		defer close(ran)
		task()
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-r.done:
		// The runner may have executed the task just before stopping.
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every task posted before the call has run.
func (r *TaskRunner) Flush(ctx context.Context) error {
	return r.PostAndWait(ctx, func() {})
}

// Close stops the runner. Queued tasks that have not started are dropped.
// Close does not wait; use Done for that.
func (r *TaskRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.queue = nil
	r.mu.Unlock()
	close(r.quit)
}

// Done is closed once the runner goroutine has exited.
func (r *TaskRunner) Done() <-chan struct{} { return r.done }

func (r *TaskRunner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case <-r.wake:
		}
		for {
			task, ok := r.next()
			if !ok {
				break
			}
			task()
		}
	}
}

func (r *TaskRunner) next() (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.queue) == 0 {
		return nil, false
	}
	task := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return task, true
}
