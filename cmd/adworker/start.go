package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/adworker/internal/api"
	"github.com/mattjoyce/adworker/internal/config"
	"github.com/mattjoyce/adworker/internal/joblog"
	"github.com/mattjoyce/adworker/internal/lock"
	"github.com/mattjoyce/adworker/internal/log"
)

const (
	pruneInterval = time.Hour
	drainTimeout  = 30 * time.Second
)

func buildStartCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the dispatcher and HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runStart(cmd.Context(), cfg)
		},
	}
}

func runStart(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("adworker starting",
		"version", versionString(),
		"config", cfg.SourceFile,
		"config_blake3", cfg.Checksum,
		"max_concurrency", cfg.Worker.MaxConcurrency,
	)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := newStack(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return err
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	errCh := make(chan error, 2)

	go pruneLoop(ctx, st.jobs, cfg.State.Retention)

	if cfg.API.Enabled {
		var metricsHandler http.Handler
		if st.metrics != nil {
			metricsHandler = st.metrics.Handler()
		}
		srv := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, st.dispatch, st.jobs, st.hub, metricsHandler, log.WithComponent("api"))
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API disabled; no tasks can be submitted to this process")
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr)
		cancel()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := st.dispatch.Shutdown(drainCtx); err != nil {
		logger.Warn("shutdown did not drain in time", "error", err, "stats", st.dispatch.Stats())
	}

	logger.Info("adworker stopped")
	return runErr
}

// pruneLoop trims the job log on startup and then hourly.
func pruneLoop(ctx context.Context, jobs *joblog.Store, retention time.Duration) {
	logger := log.WithComponent("joblog")
	prune := func() {
		n, err := jobs.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("pruned task log", "rows", n, "retention", retention.String())
		}
	}

	prune()
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}

