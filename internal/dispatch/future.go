package dispatch

import (
	"context"
	"sync"
)

// Future resolves exactly once with a task's Outcome.
type Future struct {
	taskID  string
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

func newFuture(taskID string) *Future {
	return &Future{taskID: taskID, done: make(chan struct{})}
}

// TaskID is the id assigned at submission.
func (f *Future) TaskID() string {
	return f.taskID
}

// Done is closed once the Outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Outcome blocks until the task completes.
func (f *Future) Outcome() Outcome {
	<-f.done
	return f.outcome
}

// Wait blocks until the task completes or ctx ends. Giving up on the wait
// does not stop the task.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// resolve reports whether this call delivered the outcome.
func (f *Future) resolve(o Outcome) bool {
	delivered := false
	f.once.Do(func() {
		f.outcome = o
		close(f.done)
		delivered = true
	})
	return delivered
}
