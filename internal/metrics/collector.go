package metrics

import (
	"sync"
	"time"

	"murmur/internal/errclass"
)

const (
	defaultRecentCap = 100
	defaultWindow    = 10 * time.Minute
)

// JobRecord tracks one job's passage through the pipeline.
type JobRecord struct {
	JobID          string
	UserID         string
	Attempt        int
	CurrentStage   string
	StartedAt      time.Time
	CompletedAt    time.Time
	StageStartedAt time.Time
	StageDurations map[string]time.Duration
	ErrorCategory  errclass.Category
	Failed         bool
}

// StuckJob names an active job whose current stage has overrun the threshold.
type StuckJob struct {
	JobID   string
	UserID  string
	Stage   string
	Elapsed time.Duration
}

// Summary is a point-in-time aggregate snapshot.
type Summary struct {
	Active          int
	Processed       int64
	Failed          int64
	RecentErrorRate float64
	Categories      map[errclass.Category]int64
}

type outcome struct {
	at     time.Time
	failed bool
}

// Collector aggregates pipeline metrics. Safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	now        func() time.Time
	active     map[string]*JobRecord
	recent     []JobRecord
	recentCap  int
	processed  int64
	failed     int64
	categories map[errclass.Category]int64
	outcomes   []outcome
	window     time.Duration
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock overrides time observation (used in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithWindow overrides the sliding window for the recent error rate.
func WithWindow(window time.Duration) Option {
	return func(c *Collector) {
		if window > 0 {
			c.window = window
		}
	}
}

// New builds a Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		now:        time.Now,
		active:     make(map[string]*JobRecord),
		recentCap:  defaultRecentCap,
		categories: make(map[errclass.Category]int64),
		window:     defaultWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JobStarted opens a record for jobID. Starting an already-active job
// replaces its record; the caller is beginning a fresh attempt.
func (c *Collector) JobStarted(jobID, userID string, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.active[jobID] = &JobRecord{
		JobID:          jobID,
		UserID:         userID,
		Attempt:        attempt,
		StartedAt:      now,
		StageStartedAt: now,
		StageDurations: make(map[string]time.Duration),
	}
}

// StageStarted closes the previous stage's timer and opens the named one.
func (c *Collector) StageStarted(jobID, stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.active[jobID]
	if !ok {
		return
	}
	now := c.now()
	if record.CurrentStage != "" {
		record.StageDurations[record.CurrentStage] += now.Sub(record.StageStartedAt)
	}
	record.CurrentStage = stage
	record.StageStartedAt = now
}

// JobCompleted finalizes the record as a success.
func (c *Collector) JobCompleted(jobID string) {
	c.finish(jobID, false, "")
}

// JobFailed finalizes the record as a failure under the resolved category.
func (c *Collector) JobFailed(jobID string, category errclass.Category) {
	c.finish(jobID, true, category)
}

func (c *Collector) finish(jobID string, failed bool, category errclass.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	record, ok := c.active[jobID]
	if !ok {
		record = &JobRecord{JobID: jobID, StartedAt: now, StageDurations: make(map[string]time.Duration)}
	} else {
		delete(c.active, jobID)
		if record.CurrentStage != "" {
			record.StageDurations[record.CurrentStage] += now.Sub(record.StageStartedAt)
		}
	}
	record.CompletedAt = now
	record.Failed = failed
	record.ErrorCategory = category

	if failed {
		c.failed++
		if category != "" {
			c.categories[category]++
		}
	} else {
		c.processed++
	}
	c.outcomes = append(c.outcomes, outcome{at: now, failed: failed})
	c.pruneOutcomesLocked(now)

	c.recent = append(c.recent, *record)
	if len(c.recent) > c.recentCap {
		c.recent = c.recent[len(c.recent)-c.recentCap:]
	}
}

// RecentErrorRate reports the failure fraction over the sliding window.
// Returns 0 when nothing finished recently.
func (c *Collector) RecentErrorRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneOutcomesLocked(c.now())

	if len(c.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, o := range c.outcomes {
		if o.failed {
			failures++
		}
	}
	return float64(failures) / float64(len(c.outcomes))
}

func (c *Collector) pruneOutcomesLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	keep := c.outcomes[:0]
	for _, o := range c.outcomes {
		if o.at.After(cutoff) {
			keep = append(keep, o)
		}
	}
	c.outcomes = keep
}

// StuckJobs lists active jobs whose current stage has run past threshold.
func (c *Collector) StuckJobs(threshold time.Duration) []StuckJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	var stuck []StuckJob
	for _, record := range c.active {
		elapsed := now.Sub(record.StageStartedAt)
		if elapsed > threshold {
			stuck = append(stuck, StuckJob{
				JobID:   record.JobID,
				UserID:  record.UserID,
				Stage:   record.CurrentStage,
				Elapsed: elapsed,
			})
		}
	}
	return stuck
}

// Recent returns a copy of the retained finished-job records, oldest first.
func (c *Collector) Recent() []JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]JobRecord, len(c.recent))
	copy(out, c.recent)
	return out
}

// Snapshot returns aggregate counters.
func (c *Collector) Snapshot() Summary {
	rate := c.RecentErrorRate()

	c.mu.Lock()
	defer c.mu.Unlock()
	categories := make(map[errclass.Category]int64, len(c.categories))
	for category, count := range c.categories {
		categories[category] = count
	}
	return Summary{
		Active:          len(c.active),
		Processed:       c.processed,
		Failed:          c.failed,
		RecentErrorRate: rate,
		Categories:      categories,
	}
}
