package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/adworker/internal/events"
	"github.com/mattjoyce/adworker/internal/log"
	"github.com/mattjoyce/adworker/internal/metrics"
	"github.com/mattjoyce/adworker/internal/protocol"
	"github.com/mattjoyce/adworker/internal/worker"
)

// DefaultConcurrency is the worker slot count when none is configured.
const DefaultConcurrency = 30

// Recorder persists task lifecycle transitions.
type Recorder interface {
	Queued(ctx context.Context, taskID, operation, fingerprint string) error
	Started(ctx context.Context, taskID string) error
	Completed(ctx context.Context, c Completion) error
}

// Completion is what a Recorder learns when a task finishes.
type Completion struct {
	TaskID      string
	Status      Status
	ExitCode    int
	ResultCount int
	Error       string
	Stderr      string
	Duration    time.Duration
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Limit     int   `json:"limit"`
	Running   int   `json:"running"`
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency sets the worker slot count. n <= 0 keeps the default.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithEvents(h *events.Hub) Option {
	return func(d *Dispatcher) { d.hub = h }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

type entry struct {
	task     protocol.Task
	bound    protocol.Bound
	payload  []byte
	future   *Future
	queuedAt time.Time
	// recorded closes once the queued row is written.
	recorded chan struct{}
}

// Dispatcher admits tasks in arrival order onto at most limit concurrent
// worker invocations.
type Dispatcher struct {
	exec     worker.Executor
	limit    int
	recorder Recorder
	hub      *events.Hub
	metrics  *metrics.Collector
	logger   *slog.Logger

	mu        sync.Mutex
	pending   []*entry
	running   int
	completed int64
	closed    bool

	// inflight counts accepted tasks whose Future has not resolved yet.
	inflight sync.WaitGroup
}

// New creates a Dispatcher that runs tasks on exec.
func New(exec worker.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:   exec,
		limit:  DefaultConcurrency,
		logger: log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Limit returns the concurrency ceiling.
func (d *Dispatcher) Limit() int {
	return d.limit
}

// Submit queues a task and returns its Future. It never blocks on worker
// availability. A task without an ID is given one.
func (d *Dispatcher) Submit(task protocol.Task) *Future {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	f := newFuture(task.ID)
	logger := log.WithTask(task.ID).With("operation", task.Operation)

	payload, err := protocol.EncodeTask(task)
	if err != nil {
		logger.Error("task cannot be serialized", "error", err)
		f.resolve(Outcome{
			TaskID:    task.ID,
			Operation: task.Operation,
			Status:    StatusFailed,
			Err:       &InvocationError{ExitCode: -1, Cause: err},
		})
		return f
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		f.resolve(Outcome{
			TaskID:    task.ID,
			Operation: task.Operation,
			Status:    StatusFailed,
			Err:       &InvocationError{ExitCode: -1, Cause: ErrDispatcherClosed},
		})
		return f
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	// The bound is fixed now; the caller may reuse its params map afterwards.
	e := &entry{
		task:     task,
		bound:    task.Bound(),
		payload:  payload,
		future:   f,
		queuedAt: time.Now(),
		recorded: make(chan struct{}),
	}

	// The job log write may wait on a busy database, so it runs off the
	// caller's goroutine. run waits for it before recording started.
	go func() {
		defer close(e.recorded)
		if d.recorder == nil {
			return
		}
		if err := d.recorder.Queued(context.Background(), task.ID, task.Operation, protocol.Fingerprint(payload)); err != nil {
			logger.Error("failed to record queued task", "error", err)
		}
	}()
	d.metrics.RecordSubmitted()
	d.publish("task.queued", map[string]any{
		"task_id":   task.ID,
		"operation": task.Operation,
	})

	d.mu.Lock()
	d.pending = append(d.pending, e)
	admitted := d.admitLocked()
	pending, running := len(d.pending), d.running
	d.mu.Unlock()

	d.metrics.UpdateQueueStats(pending, running)
	logger.Debug("task queued", "pending", pending, "running", running)
	d.start(admitted)
	return f
}

// SubmitFunc queues a task and calls fn with its Outcome from another goroutine.
func (d *Dispatcher) SubmitFunc(task protocol.Task, fn func(Outcome)) string {
	f := d.Submit(task)
	go func() {
		fn(f.Outcome())
	}()
	return f.TaskID()
}

// Do submits a task and waits for its Outcome. ctx bounds only the wait.
func (d *Dispatcher) Do(ctx context.Context, task protocol.Task) (Outcome, error) {
	return d.Submit(task).Wait(ctx)
}

// Stats returns the current slot usage.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Limit:     d.limit,
		Running:   d.running,
		Pending:   len(d.pending),
		Completed: d.completed,
	}
}

// Shutdown stops accepting tasks and waits until every accepted task has
// resolved. Running invocations are not interrupted.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// admitLocked pops pending entries while slots are free. Caller holds d.mu.
func (d *Dispatcher) admitLocked() []*entry {
	var admitted []*entry
	for d.running < d.limit && len(d.pending) > 0 {
		e := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.running++
		admitted = append(admitted, e)
	}
	return admitted
}

func (d *Dispatcher) start(entries []*entry) {
	for _, e := range entries {
		go d.run(e)
	}
}

// run executes one admitted entry, frees its slot and resolves its Future.
func (d *Dispatcher) run(e *entry) {
	defer d.inflight.Done()

	task := e.task
	logger := log.WithTask(task.ID).With("operation", task.Operation)
	logger.Info("executing task", "waited_ms", time.Since(e.queuedAt).Milliseconds())

	<-e.recorded
	if d.recorder != nil {
		if err := d.recorder.Started(context.Background(), task.ID); err != nil {
			logger.Error("failed to record started task", "error", err)
		}
	}
	d.publish("task.started", map[string]any{
		"task_id":   task.ID,
		"operation": task.Operation,
	})

	start := time.Now()
	inv, err := d.invoke(task, e.payload)
	outcome := buildOutcome(task, e.bound, inv, err)
	outcome.Duration = time.Since(start)

	d.mu.Lock()
	d.running--
	d.completed++
	admitted := d.admitLocked()
	pending, running := len(d.pending), d.running
	d.mu.Unlock()

	d.start(admitted)
	d.metrics.UpdateQueueStats(pending, running)
	d.metrics.RecordCompleted(string(outcome.Status), outcome.Duration)
	d.complete(logger, outcome, inv)

	e.future.resolve(outcome)
}

// invoke shields the dispatcher from a panicking executor so the slot and the
// outcome are never lost.
func (d *Dispatcher) invoke(task protocol.Task, payload []byte) (inv *worker.Invocation, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv = nil
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return d.exec.Execute(context.Background(), task.Operation, payload)
}

func (d *Dispatcher) complete(logger *slog.Logger, o Outcome, inv *worker.Invocation) {
	c := Completion{
		TaskID:      o.TaskID,
		Status:      o.Status,
		ResultCount: len(o.Records),
		Duration:    o.Duration,
	}
	if inv != nil {
		c.ExitCode = inv.ExitCode
		c.Stderr = string(inv.Stderr)
	}

	var ie *InvocationError
	if errors.As(o.Err, &ie) {
		c.ExitCode = ie.ExitCode
		c.Error = ie.Error()
	}

	switch o.Status {
	case StatusSucceeded:
		logger.Info("task succeeded", "records", c.ResultCount, "duration_ms", o.Duration.Milliseconds())
	case StatusDegraded:
		logger.Warn("worker output is not a JSON array, returning raw payload", "bytes", len(o.Raw), "duration_ms", o.Duration.Milliseconds())
	case StatusTimedOut:
		logger.Warn("task timed out", "duration_ms", o.Duration.Milliseconds())
	default:
		logger.Warn("task failed", "exit_code", c.ExitCode, "duration_ms", o.Duration.Milliseconds())
	}

	if d.recorder != nil {
		if err := d.recorder.Completed(context.Background(), c); err != nil {
			logger.Error("failed to record task completion", "error", err)
		}
	}
	d.publish("task.completed", map[string]any{
		"task_id":     o.TaskID,
		"operation":   o.Operation,
		"status":      o.Status,
		"exit_code":   c.ExitCode,
		"duration_ms": o.Duration.Milliseconds(),
	})
}

func (d *Dispatcher) publish(eventType string, data map[string]any) {
	if d.hub != nil {
		d.hub.Publish(eventType, data)
	}
}

// buildOutcome applies the completion policy to a raw invocation.
func buildOutcome(task protocol.Task, bound protocol.Bound, inv *worker.Invocation, err error) Outcome {
	o := Outcome{TaskID: task.ID, Operation: task.Operation}

	if err != nil {
		ie := &InvocationError{ExitCode: -1, Cause: err}
		if inv != nil {
			ie.ExitCode = inv.ExitCode
			ie.Stderr = string(inv.Stderr)
		}
		o.Status = StatusFailed
		if ie.TimedOut() {
			o.Status = StatusTimedOut
		}
		o.Err = ie
		return o
	}
	if inv == nil {
		o.Status = StatusFailed
		o.Err = &InvocationError{ExitCode: -1, Cause: errors.New("executor returned no invocation")}
		return o
	}

	if inv.ExitCode != 0 {
		o.Status = StatusFailed
		o.Err = &InvocationError{ExitCode: inv.ExitCode, Stderr: string(inv.Stderr)}
		return o
	}

	o.Raw = string(inv.Stdout)
	records, perr := protocol.ParseResult(inv.Stdout, bound)
	if perr != nil {
		o.Status = StatusDegraded
		return o
	}
	o.Status = StatusSucceeded
	o.Records = records
	return o
}
