// Package worker runs a single task in an external worker process.
package worker

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/mattjoyce/adworker/internal/worker Executor

// ErrTimedOut is returned when an invocation exceeded its deadline and was killed.
var ErrTimedOut = errors.New("worker invocation timed out")

// Executor runs one task and reports the raw process record.
//
// A non-zero exit is not an error: it is reported through Invocation.ExitCode.
// Errors are reserved for processes that could not be started or waited on,
// and for invocations killed after a timeout (ErrTimedOut, with whatever
// output was captured before termination).
type Executor interface {
	Execute(ctx context.Context, operation string, payload []byte) (*Invocation, error)
}

// Invocation is the record of one worker process run.
type Invocation struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Succeeded reports whether the worker exited zero.
func (i *Invocation) Succeeded() bool {
	return i != nil && i.ExitCode == 0
}
