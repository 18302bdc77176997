package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/orchestrator"
	"murmur/internal/staging"
)

const (
	defaultPollInterval = 30 * time.Second
	stagingMaxAge       = 24 * time.Hour
)

// daemon runs the batch loop on a poll interval and enforces
// single-instance execution through a file lock.
type daemon struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock
}

func newDaemon(cfg *config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) *daemon {
	lockPath := filepath.Join(cfg.Paths.DataDir, "murmurd.lock")
	return &daemon{
		cfg:      cfg,
		orch:     orch,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
}

func (d *daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return errors.New("another murmurd instance is already running")
	}
	defer d.lock.Unlock() //nolint:errcheck

	interval := d.pollInterval()
	d.logger.Info("daemon started",
		logging.String("lock_path", d.lockPath),
		logging.Duration("poll_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.runBatch(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("shutdown requested")
			return nil
		case <-ticker.C:
		}
	}
}

func (d *daemon) runBatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result, err := d.orch.ProcessNextBatch(ctx, 0)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		d.logger.Error("batch run failed", logging.Error(err))
		return
	}

	if result.Eligible > 0 {
		d.logger.Info("batch complete",
			logging.Int("eligible", result.Eligible),
			logging.Int("processed", result.Processed),
			logging.Int("failed", result.Failed),
			logging.Int("skipped", result.Skipped),
			logging.Duration("duration", result.Duration))
	}

	d.reportStuckJobs()
	staging.CleanStale(d.cfg.Paths.StagingDir, stagingMaxAge, d.logger)
}

// reportStuckJobs surfaces jobs whose current stage has been running
// past the configured threshold. Detection only; recovery is the lease
// sweep's job.
func (d *daemon) reportStuckJobs() {
	threshold := time.Duration(d.cfg.Workflow.StuckThresholdMin) * time.Minute
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	for _, stuck := range d.orch.Metrics().StuckJobs(threshold) {
		d.logger.Warn("job appears stuck",
			logging.String(logging.FieldJobID, stuck.JobID),
			logging.String("stage", stuck.Stage),
			logging.Duration("elapsed", stuck.Elapsed))
	}
}

func (d *daemon) pollInterval() time.Duration {
	if d.cfg.Workflow.PollIntervalSeconds > 0 {
		return time.Duration(d.cfg.Workflow.PollIntervalSeconds) * time.Second
	}
	return defaultPollInterval
}
