package orchestrator

import (
	"context"
	"errors"
	"sort"
	"time"

	"murmur/internal/breaker"
	"murmur/internal/errclass"
	"murmur/internal/logging"
	"murmur/internal/queue"
)

// Inter-job pacing. The base delay applies when the pipeline is healthy; it
// doubles under failure pressure and doubles again while the breaker is open.
const (
	delayHealthy  = 500 * time.Millisecond
	delayDegraded = 1000 * time.Millisecond
	delayOpen     = 2000 * time.Millisecond

	degradedErrorRate       = 0.30
	degradedBreakerFailures = 2
)

// BatchResult summarizes one ProcessNextBatch run.
type BatchResult struct {
	Eligible   int            `json:"eligible"`
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Swept      int64          `json:"swept_leases"`
	Categories map[string]int `json:"categories,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
}

// ProcessNextBatch sweeps expired leases, selects up to size eligible jobs,
// orders them by priority, and processes them sequentially. A zero or
// negative size falls back to the configured batch size.
func (o *Orchestrator) ProcessNextBatch(ctx context.Context, size int) (*BatchResult, error) {
	if size <= 0 {
		size = o.cfg.Workflow.BatchSize
	}
	result := &BatchResult{
		StartedAt:  o.now(),
		Categories: make(map[string]int),
	}

	swept, err := o.leases.SweepExpired(ctx)
	if err != nil {
		o.logger.Warn("sweep expired leases", logging.Error(err))
	}
	result.Swept = swept
	if swept > 0 {
		o.logger.Info("reclaimed expired leases", logging.Int64("count", swept))
	}

	jobs, err := o.store.EligibleJobs(ctx, size, o.cfg.Workflow.MaxAttempts)
	if err != nil {
		return nil, err
	}
	jobs = o.filterRetryable(jobs)
	sortBatch(jobs)
	result.Eligible = len(jobs)
	if len(jobs) == 0 {
		result.Duration = o.now().Sub(result.StartedAt)
		return result, nil
	}

	if o.cfg.Notifications.Batches {
		if err := o.notifier.NotifyBatchStarted(ctx, len(jobs)); err != nil {
			o.logger.Warn("send batch notification", logging.Error(err))
		}
	}

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			result.Duration = o.now().Sub(result.StartedAt)
			return result, err
		}

		err := o.ProcessNote(ctx, job.ID, ProcessOptions{})
		switch {
		case err == nil:
			result.Processed++
		case errors.Is(err, ErrLocked):
			result.Skipped++
			o.logger.Info("skipping locked job", logging.String(logging.FieldJobID, job.ID))
		default:
			result.Failed++
			result.Categories[string(errclass.Classify(err).Category)]++
		}

		if i < len(jobs)-1 {
			if err := o.sleep(ctx, o.interJobDelay()); err != nil {
				result.Duration = o.now().Sub(result.StartedAt)
				return result, err
			}
		}
	}
	result.Duration = o.now().Sub(result.StartedAt)

	if o.cfg.Notifications.Batches {
		if err := o.notifier.NotifyBatchCompleted(ctx, result.Processed, result.Failed, result.Duration); err != nil {
			o.logger.Warn("send batch notification", logging.Error(err))
		}
	}
	o.logger.Info("batch complete",
		logging.Int("eligible", result.Eligible),
		logging.Int("processed", result.Processed),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// filterRetryable drops failed jobs whose recorded category rules out another
// automatic attempt, and defers those still inside their backoff window.
// Validation, auth, quota, and schema failures will not heal on their own;
// they stay parked as failed until an operator requeues them with retry.
func (o *Orchestrator) filterRetryable(jobs []*queue.Job) []*queue.Job {
	kept := jobs[:0]
	for _, job := range jobs {
		if job.Status == queue.StatusFailed && job.ErrorCategory != "" {
			c := errclass.ByCategory(errclass.Category(job.ErrorCategory))
			if !errclass.ShouldRetry(c, job.Attempts, o.cfg.Workflow.MaxAttempts) {
				o.logger.Info("leaving non-retryable failure parked",
					logging.String(logging.FieldJobID, job.ID),
					logging.String(logging.FieldErrorCategory, job.ErrorCategory),
					logging.Int("attempts", job.Attempts))
				continue
			}
			if wait := errclass.RetryDelay(c, job.Attempts); o.now().Before(job.UpdatedAt.Add(wait)) {
				continue
			}
		}
		kept = append(kept, job)
	}
	return kept
}

// interJobDelay adapts pacing to observed health: healthy pipelines move
// fast, degraded ones back off, and an open breaker crawls so the remote
// service gets room to recover.
func (o *Orchestrator) interJobDelay() time.Duration {
	snapshot := o.breaker.Snapshot()
	if snapshot.State == breaker.StateOpen {
		return delayOpen
	}
	if o.metrics.RecentErrorRate() > degradedErrorRate ||
		snapshot.ConsecutiveFailures > degradedBreakerFailures {
		return delayDegraded
	}
	return delayHealthy
}

// sortBatch orders jobs for processing: never-attempted jobs first, then
// fewer attempts, then older recordings, then shorter ones. Short fresh
// recordings clear the queue fastest and retries never starve new work.
func sortBatch(jobs []*queue.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		aFresh, bFresh := a.Attempts == 0, b.Attempts == 0
		if aFresh != bFresh {
			return aFresh
		}
		if a.Attempts != b.Attempts {
			return a.Attempts < b.Attempts
		}
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.Before(b.RecordedAt)
		}
		return a.DurationSeconds < b.DurationSeconds
	})
}
