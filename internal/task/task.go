// Package task provides a supervised handle for a background job that
// must never run twice at once. Callers query Running or wait on Done
// instead of sharing a bare flag with the job.
package task

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned by Wait-less callers that want an error
// instead of the boolean from Start.
var ErrAlreadyRunning = errors.New("task already running")

// Func is the body of a task. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

// Task supervises at most one concurrent run of a Func.
type Task struct {
	name string

	mu      sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	lastErr error
	runs    int
}

// New creates an idle task. The name is only used in log lines.
func New(name string) *Task {
	done := make(chan struct{})
	close(done)
	return &Task{name: name, done: done}
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Start launches fn in a new goroutine unless a previous run is still in
// progress, in which case it returns false and does nothing.
func (t *Task) Start(ctx context.Context, fn Func) bool {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.running = true
	t.done = done
	t.cancel = cancel
	t.runs++
	t.mu.Unlock()

	go func() {
		err := fn(runCtx)
		cancel()

		t.mu.Lock()
		t.running = false
		t.lastErr = err
		t.cancel = nil
		t.mu.Unlock()
		close(done)
	}()
	return true
}

// TryStart is Start with an error result for callers that prefer one.
func (t *Task) TryStart(ctx context.Context, fn Func) error {
	if !t.Start(ctx, fn) {
		return ErrAlreadyRunning
	}
	return nil
}

// Running reports whether a run is in progress.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Done returns a channel closed when the current (or most recent) run
// finishes. For a task that never ran it is already closed.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Stop asks the current run to finish by cancelling its context. It does
// not wait; use Wait for that.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastErr returns the error of the most recently finished run.
func (t *Task) LastErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Runs returns how many times the task has been started.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}
