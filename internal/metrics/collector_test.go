package metrics

import (
	"fmt"
	"testing"
	"time"

	"murmur/internal/errclass"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCollector() (*Collector, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func TestStageDurations(t *testing.T) {
	c, clock := newTestCollector()
	c.JobStarted("job-1", "user-1", 1)
	c.StageStarted("job-1", "transcribing")
	clock.Advance(3 * time.Second)
	c.StageStarted("job-1", "analyzing")
	clock.Advance(2 * time.Second)
	c.JobCompleted("job-1")

	recent := c.Recent()
	if len(recent) != 1 {
		t.Fatalf("recent = %d, want 1", len(recent))
	}
	record := recent[0]
	if record.Failed {
		t.Fatal("job should be a success")
	}
	if got := record.StageDurations["transcribing"]; got != 3*time.Second {
		t.Fatalf("transcribing duration = %s", got)
	}
	if got := record.StageDurations["analyzing"]; got != 2*time.Second {
		t.Fatalf("analyzing duration = %s", got)
	}
}

func TestAggregatesAndCategories(t *testing.T) {
	c, _ := newTestCollector()
	c.JobStarted("a", "u", 1)
	c.JobCompleted("a")
	c.JobStarted("b", "u", 1)
	c.JobFailed("b", errclass.CategoryRateLimit)
	c.JobStarted("c", "u", 2)
	c.JobFailed("c", errclass.CategoryRateLimit)

	summary := c.Snapshot()
	if summary.Processed != 1 || summary.Failed != 2 {
		t.Fatalf("processed/failed = %d/%d", summary.Processed, summary.Failed)
	}
	if summary.Categories[errclass.CategoryRateLimit] != 2 {
		t.Fatalf("rate_limit count = %d", summary.Categories[errclass.CategoryRateLimit])
	}
	if summary.Active != 0 {
		t.Fatalf("active = %d", summary.Active)
	}
}

func TestRecentErrorRateWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.Now), WithWindow(time.Minute))

	c.JobStarted("old", "u", 1)
	c.JobFailed("old", errclass.CategoryNetwork)
	if rate := c.RecentErrorRate(); rate != 1.0 {
		t.Fatalf("rate = %v, want 1.0", rate)
	}

	clock.Advance(2 * time.Minute)
	if rate := c.RecentErrorRate(); rate != 0 {
		t.Fatalf("rate after window = %v, want 0", rate)
	}

	c.JobStarted("s1", "u", 1)
	c.JobCompleted("s1")
	c.JobStarted("s2", "u", 1)
	c.JobCompleted("s2")
	c.JobStarted("f1", "u", 1)
	c.JobFailed("f1", errclass.CategoryTimeout)
	c.JobStarted("f2", "u", 1)
	c.JobFailed("f2", errclass.CategoryTimeout)
	if rate := c.RecentErrorRate(); rate != 0.5 {
		t.Fatalf("rate = %v, want 0.5", rate)
	}
}

func TestStuckJobs(t *testing.T) {
	c, clock := newTestCollector()
	c.JobStarted("slow", "u", 1)
	c.StageStarted("slow", "transcribing")
	c.JobStarted("fast", "u", 1)
	c.StageStarted("fast", "transcribing")

	clock.Advance(10 * time.Minute)
	c.StageStarted("fast", "analyzing") // resets the fast job's stage timer
	clock.Advance(time.Minute)

	stuck := c.StuckJobs(5 * time.Minute)
	if len(stuck) != 1 {
		t.Fatalf("stuck = %d, want 1", len(stuck))
	}
	if stuck[0].JobID != "slow" || stuck[0].Stage != "transcribing" {
		t.Fatalf("stuck = %+v", stuck[0])
	}
	if stuck[0].Elapsed != 11*time.Minute {
		t.Fatalf("elapsed = %s", stuck[0].Elapsed)
	}
}

func TestRecentRingBounded(t *testing.T) {
	c, _ := newTestCollector()
	for i := 0; i < defaultRecentCap+20; i++ {
		id := fmt.Sprintf("job-%d", i)
		c.JobStarted(id, "u", 1)
		c.JobCompleted(id)
	}
	recent := c.Recent()
	if len(recent) != defaultRecentCap {
		t.Fatalf("recent = %d, want %d", len(recent), defaultRecentCap)
	}
	if recent[len(recent)-1].JobID != fmt.Sprintf("job-%d", defaultRecentCap+19) {
		t.Fatalf("last = %s", recent[len(recent)-1].JobID)
	}
}
