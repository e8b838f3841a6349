package orchestrator

import (
	"context"
	"sync"
)

// Task is the handle of one background job.
type Task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// ID returns the job ID.
func (t *Task) ID() string { return t.id }

// Done is closed when the job has finished, successfully or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure of a finished job, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel stops the job. The job ends in the failed phase.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}
