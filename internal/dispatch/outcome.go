package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mattjoyce/adworker/internal/worker"
)

// ErrDispatcherClosed is the failure cause for tasks submitted after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusDegraded  Status = "degraded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is a final task status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusDegraded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Outcome is the single result delivered for a task.
type Outcome struct {
	TaskID    string
	Operation string
	Status    Status

	// Records holds the decoded, bounded result when Status is succeeded and
	// the worker wrote a JSON array.
	Records []json.RawMessage
	// Raw is the worker's stdout on success paths.
	Raw string
	// Err is set for failed and timed_out outcomes.
	Err error

	Duration time.Duration
}

// OK reports whether the task produced a value, degraded or not.
func (o Outcome) OK() bool {
	return o.Status == StatusSucceeded || o.Status == StatusDegraded
}

// Value returns what the caller receives: decoded records, the raw text for
// degraded or empty output, or nil on failure.
func (o Outcome) Value() any {
	switch o.Status {
	case StatusSucceeded:
		if o.Records != nil {
			return o.Records
		}
		return o.Raw
	case StatusDegraded:
		return o.Raw
	}
	return nil
}

// InvocationError carries a worker failure. Its message is the worker's
// stderr, unaltered, whenever the worker wrote any.
type InvocationError struct {
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *InvocationError) Error() string {
	if e.Stderr != "" || e.Cause == nil {
		return e.Stderr
	}
	return e.Cause.Error()
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// TimedOut reports whether the invocation was killed on its deadline.
func (e *InvocationError) TimedOut() bool {
	return errors.Is(e.Cause, worker.ErrTimedOut)
}
