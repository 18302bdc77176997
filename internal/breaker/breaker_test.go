package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"murmur/internal/errclass"
	"murmur/internal/services"
)

func TestExecutePassesThroughWhenClosed(t *testing.T) {
	b := New("test")

	calls := 0
	err := b.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if snap := b.Snapshot(); snap.State != StateClosed {
		t.Fatalf("expected closed, got %s", snap.State)
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New("test", WithThreshold(3))
	boom := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}

	snap := b.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected open after threshold, got %s", snap.State)
	}
	if snap.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", snap.ConsecutiveFailures)
	}

	calls := 0
	err := b.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
	if calls != 0 {
		t.Fatal("open breaker must not invoke fn")
	}
}

func TestProbeAfterResetTimeout(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("test", WithThreshold(1), WithResetTimeout(10*time.Second), WithClock(clock))

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("timeout") })
	if snap := b.Snapshot(); snap.State != StateOpen {
		t.Fatalf("expected open, got %s", snap.State)
	}

	now = now.Add(11 * time.Second)
	if snap := b.Snapshot(); snap.State != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", snap.State)
	}

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if snap := b.Snapshot(); snap.State != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", snap.State)
	}
}

func TestFailedProbeReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("test", WithThreshold(1), WithResetTimeout(10*time.Second), WithClock(clock))

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("timeout") })
	now = now.Add(11 * time.Second)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("timeout") })
	if snap := b.Snapshot(); snap.State != StateOpen {
		t.Fatalf("expected reopened after failed probe, got %s", snap.State)
	}

	// Cooldown restarts from the probe failure.
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected circuit-open during new cooldown, got %v", err)
	}
}

func TestSuccessResetsCounterButNotHistogram(t *testing.T) {
	b := New("test", WithThreshold(5))

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("rate limit exceeded") })
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("timeout") })
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })

	snap := b.Snapshot()
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected counter reset, got %d", snap.ConsecutiveFailures)
	}
	if snap.Histogram[errclass.CategoryRateLimit] != 1 {
		t.Fatalf("expected rate_limit count 1, got %d", snap.Histogram[errclass.CategoryRateLimit])
	}
	if snap.Histogram[errclass.CategoryTimeout] != 1 {
		t.Fatalf("expected timeout count 1, got %d", snap.Histogram[errclass.CategoryTimeout])
	}
}

func TestSnapshotCopiesHistogram(t *testing.T) {
	b := New("test")
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("timeout") })

	snap := b.Snapshot()
	snap.Histogram[errclass.CategoryTimeout] = 99

	if got := b.Snapshot().Histogram[errclass.CategoryTimeout]; got != 1 {
		t.Fatalf("snapshot mutation leaked into breaker: %d", got)
	}
}
