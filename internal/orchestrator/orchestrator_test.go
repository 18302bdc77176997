package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"murmur/internal/breaker"
	"murmur/internal/lease"
	"murmur/internal/logging"
	"murmur/internal/media/container"
	"murmur/internal/media/normalize"
	"murmur/internal/queue"
	"murmur/internal/services/analysis"
	"murmur/internal/services/transcribe"
	"murmur/internal/storage"
	"murmur/internal/testsupport"
)

type fakeDownloader struct {
	calls []string
	data  []byte
	err   error
}

func (f *fakeDownloader) Download(_ context.Context, locator string) (*storage.Object, error) {
	f.calls = append(f.calls, locator)
	if f.err != nil {
		return nil, f.err
	}
	return &storage.Object{Data: f.data, ContentType: "audio/wav"}, nil
}

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(_ context.Context, data []byte, info container.Info) normalize.Result {
	return normalize.Result{Data: data, Format: info.Format, MIMEType: info.Format.MIMEType()}
}

func (fakeNormalizer) CompressForUpload(_ context.Context, data []byte, format container.Format) normalize.Result {
	return normalize.Result{Data: data, Format: format, MIMEType: format.MIMEType()}
}

type fakeTranscriber struct {
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req transcribe.Request) (*transcribe.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Result{Text: f.text, Chunks: 1}, nil
}

type fakeAnalyzer struct {
	calls    int
	gotInput analysis.Input
	result   *analysis.NoteAnalysis
	err      error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, input analysis.Input) (*analysis.NoteAnalysis, error) {
	f.calls++
	f.gotInput = input
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &analysis.NoteAnalysis{Summary: "a note", Sentiment: "neutral", Passes: 1}, nil
}

type testHarness struct {
	orch        *Orchestrator
	store       *queue.Store
	leases      *lease.MemoryStore
	downloader  *fakeDownloader
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	leases := lease.NewMemoryStore()
	downloader := &fakeDownloader{data: []byte("RIFF....WAVEfmt data")}
	transcriber := &fakeTranscriber{text: "hello from the note"}
	analyzer := &fakeAnalyzer{}

	orch := New(cfg, store, leases, logging.NewNop(),
		WithDownloader(downloader),
		WithNormalizer(fakeNormalizer{}),
		WithTranscriber(transcriber),
		WithAnalyzer(analyzer),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	return &testHarness{
		orch:        orch,
		store:       store,
		leases:      leases,
		downloader:  downloader,
		transcriber: transcriber,
		analyzer:    analyzer,
	}
}

func TestProcessNoteHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")

	if err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{}); err != nil {
		t.Fatalf("ProcessNote: %v", err)
	}

	updated, err := h.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
	if updated.Transcription != "hello from the note" {
		t.Fatalf("transcription = %q", updated.Transcription)
	}
	var parsed analysis.NoteAnalysis
	if err := json.Unmarshal([]byte(updated.AnalysisJSON), &parsed); err != nil {
		t.Fatalf("analysis json: %v", err)
	}
	if parsed.Summary != "a note" {
		t.Fatalf("summary = %q", parsed.Summary)
	}
	if updated.ErrorMessage != "" || updated.ErrorCategory != "" {
		t.Fatalf("error fields should be clear, got %q/%q", updated.ErrorMessage, updated.ErrorCategory)
	}
	if updated.ProcessedAt == nil {
		t.Fatal("processed_at should be stamped")
	}
	if updated.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 after a single run", updated.Attempts)
	}

	// Lease was released: a fresh acquire must succeed.
	acquired, err := h.leases.Acquire(ctx, job.ID, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("lease not released, acquired=%v err=%v", acquired, err)
	}

	// Knowledge accumulated for the speaker.
	knowledge, err := h.store.UserKnowledge(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserKnowledge: %v", err)
	}
	if knowledge == "" {
		t.Fatal("expected knowledge fragment after completion")
	}
}

func TestProcessNoteResumesAtAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	if err := h.store.SaveTranscription(ctx, job.ID, "already transcribed"); err != nil {
		t.Fatalf("SaveTranscription: %v", err)
	}

	if err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{}); err != nil {
		t.Fatalf("ProcessNote: %v", err)
	}
	if h.transcriber.calls != 0 {
		t.Fatalf("transcriber calls = %d, want 0 on resume", h.transcriber.calls)
	}
	if len(h.downloader.calls) != 0 {
		t.Fatalf("download calls = %d, want 0 on resume", len(h.downloader.calls))
	}
	if h.analyzer.gotInput.Transcript != "already transcribed" {
		t.Fatalf("analyzer got %q", h.analyzer.gotInput.Transcript)
	}
}

func TestProcessNoteTranscriptionFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	h.transcriber.err = errors.New("rate limit exceeded")

	if err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{}); err == nil {
		t.Fatal("expected failure")
	}

	updated, err := h.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
	if updated.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", updated.Attempts)
	}
	if updated.ErrorCategory != "rate_limit" {
		t.Fatalf("category = %q, want rate_limit", updated.ErrorCategory)
	}
	if updated.Transcription != "" {
		t.Fatal("no transcript should be persisted on failure")
	}
	if h.analyzer.calls != 0 {
		t.Fatal("analysis must not run after transcription failure")
	}
	if h.leases.LastError(job.ID) == "" {
		t.Fatal("lease should be released with the error recorded")
	}
}

func TestProcessNoteSkipsAlreadyProcessed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	if err := h.store.MarkCompleted(ctx, job.ID, "{}"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{}); err != nil {
		t.Fatalf("ProcessNote: %v", err)
	}
	if len(h.downloader.calls) != 0 {
		t.Fatal("completed job should short-circuit before download")
	}
}

func TestProcessNoteForceReprocessesCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	if err := h.store.MarkCompleted(ctx, job.ID, "{}"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// A held lease must not block a forced run.
	if ok, _ := h.leases.Acquire(ctx, job.ID, time.Hour); !ok {
		t.Fatal("test setup: acquire failed")
	}
	if err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{Force: true}); err != nil {
		t.Fatalf("forced ProcessNote: %v", err)
	}
	if h.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1", h.analyzer.calls)
	}
}

func TestProcessNoteLeaseRefusalInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	if err := h.store.SetStatus(ctx, job.ID, queue.StatusTranscribing); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if ok, _ := h.leases.Acquire(ctx, job.ID, time.Hour); !ok {
		t.Fatal("test setup: acquire failed")
	}

	err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(h.downloader.calls) != 0 {
		t.Fatal("locked job must not be processed")
	}
}

func TestProcessNoteLeaseRefusalCompletedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	if ok, _ := h.leases.Acquire(ctx, job.ID, time.Hour); !ok {
		t.Fatal("test setup: acquire failed")
	}
	if err := h.store.MarkCompleted(ctx, job.ID, "{}"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	// Simulate the race: completion happened after our first read.
	if err := h.orch.ProcessNote(ctx, job.ID, ProcessOptions{}); err != nil {
		t.Fatalf("refusal with completed job should succeed, got %v", err)
	}
}

// completeOnAcquireLeases lets a test run code in the window right after a
// successful acquire, before the orchestrator proceeds.
type completeOnAcquireLeases struct {
	*lease.MemoryStore
	afterAcquire func()
}

func (c *completeOnAcquireLeases) Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	ok, err := c.MemoryStore.Acquire(ctx, jobID, ttl)
	if ok && c.afterAcquire != nil {
		c.afterAcquire()
	}
	return ok, err
}

func TestProcessNoteRechecksCompletionUnderLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	leases := &completeOnAcquireLeases{MemoryStore: lease.NewMemoryStore()}
	downloader := &fakeDownloader{data: []byte("RIFF....WAVEfmt data")}
	orch := New(cfg, store, leases, logging.NewNop(),
		WithDownloader(downloader),
		WithNormalizer(fakeNormalizer{}),
		WithTranscriber(&fakeTranscriber{text: "x"}),
		WithAnalyzer(&fakeAnalyzer{}),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "user-1", "note.wav")

	// Another worker completes and releases the job between our first read
	// and the acquire.
	leases.afterAcquire = func() {
		leases.afterAcquire = nil
		if err := store.MarkCompleted(ctx, job.ID, "{}"); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
	}

	if err := orch.ProcessNote(ctx, job.ID, ProcessOptions{}); err != nil {
		t.Fatalf("ProcessNote: %v", err)
	}
	if len(downloader.calls) != 0 {
		t.Fatalf("completed job was reprocessed: %v", downloader.calls)
	}

	// The short-circuit path must still release the lease.
	if ok, err := leases.Acquire(ctx, job.ID, time.Minute); err != nil || !ok {
		t.Fatalf("lease not released: ok=%v err=%v", ok, err)
	}
}

func TestKnowledgeFragment(t *testing.T) {
	result := &analysis.NoteAnalysis{Summary: "planning the launch"}
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if got := knowledgeFragment(result, at); got != "[2026-08-20] planning the launch" {
		t.Fatalf("fragment = %q", got)
	}
	if got := knowledgeFragment(&analysis.NoteAnalysis{}, at); got != "" {
		t.Fatalf("empty summary should yield no fragment, got %q", got)
	}
}

func TestProcessNextBatchCountsAndOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	older := testsupport.NewJob(t, h.store, "user-1", "older.wav")
	newer := testsupport.NewJob(t, h.store, "user-1", "newer.wav")
	retried := testsupport.NewJob(t, h.store, "user-1", "retried.wav")
	if err := h.store.MarkAttemptStarted(ctx, retried.ID); err != nil {
		t.Fatalf("MarkAttemptStarted: %v", err)
	}
	if err := h.store.RecordFailure(ctx, retried.ID, "timeout", "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	// Step past the retried job's backoff window.
	h.orch.now = func() time.Time { return time.Now().Add(time.Minute) }

	// Give the fresh jobs distinct recorded-at order.
	olderJob, _ := h.store.GetByID(ctx, older.ID)
	olderJob.RecordedAt = time.Now().UTC().Add(-2 * time.Hour)
	if err := h.store.Update(ctx, olderJob); err != nil {
		t.Fatalf("Update: %v", err)
	}

	result, err := h.orch.ProcessNextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if result.Eligible != 3 {
		t.Fatalf("eligible = %d, want 3", result.Eligible)
	}
	if result.Processed != 3 || result.Failed != 0 {
		t.Fatalf("processed/failed = %d/%d", result.Processed, result.Failed)
	}

	// Fresh jobs first (older recording before newer), retried job last.
	want := []string{"older.wav", "newer.wav", "retried.wav"}
	if len(h.downloader.calls) != len(want) {
		t.Fatalf("download calls = %v", h.downloader.calls)
	}
	for i, locator := range want {
		if h.downloader.calls[i] != locator {
			t.Fatalf("call %d = %q, want %q (all: %v)", i, h.downloader.calls[i], locator, h.downloader.calls)
		}
	}
	_ = newer
}

func TestProcessNextBatchParksNonRetryableFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parked := testsupport.NewJob(t, h.store, "user-1", "parked.wav")
	if err := h.store.MarkAttemptStarted(ctx, parked.ID); err != nil {
		t.Fatalf("MarkAttemptStarted: %v", err)
	}
	if err := h.store.RecordFailure(ctx, parked.ID, "invalid input format", "validation"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	result, err := h.orch.ProcessNextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if result.Eligible != 0 {
		t.Fatalf("eligible = %d, want 0 for a non-retryable failure", result.Eligible)
	}
	if len(h.downloader.calls) != 0 {
		t.Fatalf("non-retryable job was reprocessed: %v", h.downloader.calls)
	}

	got, err := h.store.GetByID(ctx, parked.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusFailed || got.ErrorCategory != "validation" {
		t.Fatalf("parked job changed: status=%s category=%q", got.Status, got.ErrorCategory)
	}
}

func TestProcessNextBatchDefersRetryInsideBackoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, h.store, "user-1", "note.wav")
	if err := h.store.MarkAttemptStarted(ctx, job.ID); err != nil {
		t.Fatalf("MarkAttemptStarted: %v", err)
	}
	if err := h.store.RecordFailure(ctx, job.ID, "request timed out", "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	// Immediately after the failure the backoff window is still open.
	result, err := h.orch.ProcessNextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if result.Eligible != 0 || len(h.downloader.calls) != 0 {
		t.Fatalf("job retried inside its backoff window: eligible=%d calls=%v", result.Eligible, h.downloader.calls)
	}

	h.orch.now = func() time.Time { return time.Now().Add(time.Minute) }
	result, err = h.orch.ProcessNextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("processed = %d, want 1 once the window has passed", result.Processed)
	}
}

func TestProcessNextBatchSkipsLockedJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	locked := testsupport.NewJob(t, h.store, "user-1", "locked.wav")
	free := testsupport.NewJob(t, h.store, "user-1", "free.wav")
	if ok, _ := h.leases.Acquire(ctx, locked.ID, time.Hour); !ok {
		t.Fatal("test setup: acquire failed")
	}

	result, err := h.orch.ProcessNextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", result.Skipped)
	}
	if result.Processed != 1 {
		t.Fatalf("processed = %d, want 1", result.Processed)
	}
	if len(h.downloader.calls) != 1 || h.downloader.calls[0] != "free.wav" {
		t.Fatalf("download calls = %v", h.downloader.calls)
	}
	_ = free
}

func TestProcessNextBatchRecordsCategories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewJob(t, h.store, "user-1", "a.wav")
	testsupport.NewJob(t, h.store, "user-1", "b.wav")
	h.transcriber.err = errors.New("request timed out")

	result, err := h.orch.ProcessNextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if result.Failed != 2 {
		t.Fatalf("failed = %d, want 2", result.Failed)
	}
	if result.Categories["timeout"] != 2 {
		t.Fatalf("categories = %v", result.Categories)
	}
}

func TestInterJobDelayAdaptsToHealth(t *testing.T) {
	h := newHarness(t)
	if got := h.orch.interJobDelay(); got != delayHealthy {
		t.Fatalf("healthy delay = %s", got)
	}

	// Push the breaker past the degraded threshold but below open.
	b := breaker.New("test", breaker.WithThreshold(10))
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error {
			return errors.New("network unreachable")
		})
	}
	h.orch.breaker = b
	if got := h.orch.interJobDelay(); got != delayDegraded {
		t.Fatalf("degraded delay = %s", got)
	}

	open := breaker.New("test", breaker.WithThreshold(1))
	_ = open.Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
	h.orch.breaker = open
	if got := h.orch.interJobDelay(); got != delayOpen {
		t.Fatalf("open delay = %s", got)
	}
}

func TestSortBatchPriority(t *testing.T) {
	now := time.Now()
	jobs := []*queue.Job{
		{ID: "retry-many", Attempts: 3, RecordedAt: now.Add(-3 * time.Hour)},
		{ID: "fresh-long", Attempts: 0, RecordedAt: now.Add(-time.Hour), DurationSeconds: 600},
		{ID: "fresh-short", Attempts: 0, RecordedAt: now.Add(-time.Hour), DurationSeconds: 30},
		{ID: "retry-few", Attempts: 1, RecordedAt: now.Add(-2 * time.Hour)},
		{ID: "fresh-old", Attempts: 0, RecordedAt: now.Add(-4 * time.Hour)},
	}
	sortBatch(jobs)

	want := []string{"fresh-old", "fresh-short", "fresh-long", "retry-few", "retry-many"}
	for i, id := range want {
		if jobs[i].ID != id {
			got := make([]string, len(jobs))
			for j, job := range jobs {
				got[j] = job.ID
			}
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
