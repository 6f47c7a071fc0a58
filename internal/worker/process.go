package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultTerminationGrace is how long a timed-out worker gets between SIGTERM and SIGKILL.
const DefaultTerminationGrace = 5 * time.Second

// ProcessExecutor starts `Interpreter [Script] <operation> <payload>` per task.
type ProcessExecutor struct {
	Interpreter string
	Script      string
	Dir         string
	// Env is appended to the parent environment.
	Env []string

	// Timeout bounds one invocation. Zero waits for the process indefinitely.
	Timeout          time.Duration
	TerminationGrace time.Duration

	Logger *slog.Logger
}

// Args returns the argument vector for an invocation, without the interpreter.
func (p *ProcessExecutor) Args(operation string, payload []byte) []string {
	args := make([]string, 0, 3)
	if p.Script != "" {
		args = append(args, p.Script)
	}
	return append(args, operation, string(payload))
}

// Execute implements Executor.
func (p *ProcessExecutor) Execute(ctx context.Context, operation string, payload []byte) (*Invocation, error) {
	if p.Interpreter == "" {
		return nil, fmt.Errorf("worker interpreter is empty")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Termination is managed below rather than through CommandContext so a
	// timed-out worker gets SIGTERM and a grace period first.
	cmd := exec.Command(p.Interpreter, p.Args(operation, payload)...)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}

	// Own process group so termination reaches anything the worker forked.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Without a timeout, Wait blocks until every holder of the output pipes
	// has closed them, including children the worker left behind.
	if p.Timeout > 0 {
		cmd.WaitDelay = p.grace()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	logger.Debug("worker started", "pid", cmd.Process.Pid, "interpreter", p.Interpreter)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var err error
	select {
	case err = <-waitErr:
	case <-timeoutC:
		p.terminate(cmd, waitErr, logger)
		return &Invocation{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			ExitCode: -1,
			Duration: time.Since(start),
		}, fmt.Errorf("%w after %v", ErrTimedOut, p.Timeout)
	case <-ctx.Done():
		p.terminate(cmd, waitErr, logger)
		return &Invocation{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			ExitCode: -1,
			Duration: time.Since(start),
		}, fmt.Errorf("worker interrupted: %w", ctx.Err())
	}

	inv := &Invocation{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// The worker exited cleanly; a leftover child still held its pipes.
		logger.Warn("worker exited but its output pipes stayed open", "pid", cmd.Process.Pid)
		err = nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return inv, fmt.Errorf("wait for worker: %w", err)
		}
		inv.ExitCode = exitErr.ExitCode()
	}
	return inv, nil
}

// terminate sends SIGTERM, then SIGKILL once the grace period lapses, and
// waits for the process to be reaped.
func (p *ProcessExecutor) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	pgid := -cmd.Process.Pid

	logger.Warn("worker deadline reached, sending SIGTERM", "pid", cmd.Process.Pid)
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	timer := time.NewTimer(p.grace())
	defer timer.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
		// Reap stragglers left in the group.
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	case <-timer.C:
		logger.Warn("worker ignored SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func (p *ProcessExecutor) grace() time.Duration {
	if p.TerminationGrace <= 0 {
		return DefaultTerminationGrace
	}
	return p.TerminationGrace
}
