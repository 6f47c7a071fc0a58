package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/adworker/internal/config"
	"github.com/mattjoyce/adworker/internal/dispatch"
	"github.com/mattjoyce/adworker/internal/events"
	"github.com/mattjoyce/adworker/internal/joblog"
	"github.com/mattjoyce/adworker/internal/log"
	"github.com/mattjoyce/adworker/internal/metrics"
	"github.com/mattjoyce/adworker/internal/storage"
	"github.com/mattjoyce/adworker/internal/worker"
)

// stack is the dispatcher with its job log, event hub and metrics.
type stack struct {
	db       *sql.DB
	jobs     *joblog.Store
	hub      *events.Hub
	metrics  *metrics.Collector
	dispatch *dispatch.Dispatcher
}

func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open job log %s: %w", cfg.State.Path, err)
	}

	s := &stack{
		db:   db,
		jobs: joblog.New(db),
		hub:  events.NewHub(512),
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metrics.NewCollector(reg)
	}

	exec := &worker.ProcessExecutor{
		Interpreter:      cfg.Worker.Interpreter,
		Script:           cfg.Worker.Script,
		Dir:              cfg.Worker.Dir,
		Env:              cfg.Worker.Env,
		Timeout:          cfg.Worker.Timeout,
		TerminationGrace: cfg.Worker.TerminationGrace,
		Logger:           log.WithComponent("worker"),
	}

	s.dispatch = dispatch.New(exec,
		dispatch.WithConcurrency(cfg.Worker.MaxConcurrency),
		dispatch.WithRecorder(s.jobs),
		dispatch.WithEvents(s.hub),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithLogger(log.WithComponent("dispatch")),
	)
	return s, nil
}

func (s *stack) Close() error {
	return s.db.Close()
}
