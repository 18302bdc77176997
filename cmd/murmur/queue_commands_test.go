package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"murmur/internal/queue"
)

func TestQueueListAndStats(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	alpha, err := env.store.NewJob(ctx, "alice", "/media/alpha.wav", "audio/wav", time.Now().UTC(), 12)
	if err != nil {
		t.Fatalf("alpha job: %v", err)
	}

	beta, err := env.store.NewJob(ctx, "bob", "/media/beta.wav", "audio/wav", time.Now().UTC(), 30)
	if err != nil {
		t.Fatalf("beta job: %v", err)
	}
	if err := env.store.RecordFailure(ctx, beta.ID, "boom", "network"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	out, err := runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, alpha.ID)
	requireContains(t, out, beta.ID)
	requireContains(t, out, "network")

	out, err = runCLI(t, []string{"queue", "list", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	requireContains(t, out, beta.ID)
	if strings.Contains(out, alpha.ID) {
		t.Fatalf("expected filtered output to omit %s, got:\n%s", alpha.ID, out)
	}

	out, err = runCLI(t, []string{"stats"}, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, `"total": 2`)
	requireContains(t, out, `"failed": 1`)

	out, err = runCLI(t, []string{"stats", "--user"}, env.configPath)
	if err != nil {
		t.Fatalf("stats --user: %v", err)
	}
	requireContains(t, out, "alice")
	requireContains(t, out, "bob")
}

func TestQueueListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, []string{"queue", "list", "--status", "bogus"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestRetryAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	job, err := env.store.NewJob(ctx, "alice", "/media/alpha.wav", "audio/wav", time.Now().UTC(), 12)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if err := env.store.RecordFailure(ctx, job.ID, "boom", "network"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	out, err := runCLI(t, []string{"retry"}, env.configPath)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "requeued 1 jobs")

	updated, err := env.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", updated.Status)
	}

	out, err = runCLI(t, []string{"queue", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "removed 1 jobs")
}

func TestResetStuckCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	job, err := env.store.NewJob(ctx, "alice", "/media/alpha.wav", "audio/wav", time.Now().UTC(), 12)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if err := env.store.SetStatus(ctx, job.ID, queue.StatusTranscribing); err != nil {
		t.Fatalf("set status: %v", err)
	}

	out, err := runCLI(t, []string{"reset"}, env.configPath)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	requireContains(t, out, "reset 1 jobs")

	updated, err := env.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", updated.Status)
	}
}

func TestAddCommandEnqueuesRecording(t *testing.T) {
	env := setupCLITestEnv(t)

	recording := filepath.Join(t.TempDir(), "note.wav")
	if err := os.WriteFile(recording, []byte("RIFF0000WAVEfmt "), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}

	out, err := runCLI(t, []string{"add", recording, "--user", "alice"}, env.configPath)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "queued note.wav as job")

	jobs, err := env.store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].UserID != "alice" {
		t.Fatalf("expected user alice, got %s", jobs[0].UserID)
	}
	if jobs[0].MIMEType != "audio/wav" && jobs[0].MIMEType != "audio/x-wav" && jobs[0].MIMEType != "audio/wave" {
		t.Fatalf("unexpected mime type %s", jobs[0].MIMEType)
	}
}
