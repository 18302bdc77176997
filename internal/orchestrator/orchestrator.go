package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"murmur/internal/breaker"
	"murmur/internal/config"
	"murmur/internal/errclass"
	"murmur/internal/lease"
	"murmur/internal/logging"
	"murmur/internal/media/container"
	"murmur/internal/media/normalize"
	"murmur/internal/metrics"
	"murmur/internal/notifications"
	"murmur/internal/queue"
	"murmur/internal/services"
	"murmur/internal/services/analysis"
	"murmur/internal/services/transcribe"
	"murmur/internal/storage"
)

// ErrLocked reports that another worker holds the job's lease. Batch
// processing treats it as a skip, not a failure.
var ErrLocked = errors.New("job locked by another worker")

// Downloader fetches the recording bytes a job points at.
type Downloader interface {
	Download(ctx context.Context, locator string) (*storage.Object, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error)
}

// Analyzer turns a transcript into a structured analysis.
type Analyzer interface {
	Analyze(ctx context.Context, input analysis.Input) (*analysis.NoteAnalysis, error)
}

// Normalizer converts audio into a transcription-friendly shape.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte, info container.Info) normalize.Result
	CompressForUpload(ctx context.Context, data []byte, format container.Format) normalize.Result
}

// ProcessOptions tune a single ProcessNote invocation.
type ProcessOptions struct {
	// Force reprocesses a completed job and bypasses lease acquisition.
	Force bool
}

// Orchestrator coordinates the full pipeline for one murmur instance.
type Orchestrator struct {
	cfg         *config.Config
	store       *queue.Store
	leases      lease.Store
	downloader  Downloader
	normalizer  Normalizer
	transcriber Transcriber
	analyzer    Analyzer
	breaker     *breaker.Breaker
	metrics     *metrics.Collector
	notifier    notifications.Service
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator; primarily used to substitute fakes in
// tests.
type Option func(*Orchestrator)

// WithDownloader overrides the storage resolver.
func WithDownloader(d Downloader) Option {
	return func(o *Orchestrator) { o.downloader = d }
}

// WithNormalizer overrides the audio normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithTranscriber overrides the transcription client.
func WithTranscriber(t Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

// WithAnalyzer overrides the analysis client.
func WithAnalyzer(a Analyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithBreaker overrides the shared circuit breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(o *Orchestrator) { o.breaker = b }
}

// WithMetrics overrides the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClock overrides time observation (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleep overrides inter-job pacing sleeps (used in tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// New wires an Orchestrator with production collaborators, then applies
// options.
func New(cfg *config.Config, store *queue.Store, leases lease.Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		store:       store,
		leases:      leases,
		downloader:  storage.NewResolver(cfg, logger),
		normalizer:  normalize.New(cfg.Workflow.FFmpegBinary, cfg.Paths.StagingDir, logger),
		transcriber: transcribe.NewFromConfig(cfg, logger),
		analyzer:    analysis.NewFromConfig(cfg, logger),
		breaker: breaker.New("remote-services",
			breaker.WithThreshold(cfg.Breaker.FailureThreshold),
			breaker.WithResetTimeout(time.Duration(cfg.Breaker.ResetTimeoutSeconds)*time.Second)),
		metrics:  metrics.New(),
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		now:      time.Now,
	}
	o.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics exposes the collector for the daemon and CLI.
func (o *Orchestrator) Metrics() *metrics.Collector { return o.metrics }

// BreakerSnapshot exposes breaker state for diagnostics.
func (o *Orchestrator) BreakerSnapshot() breaker.Snapshot { return o.breaker.Snapshot() }

func (o *Orchestrator) leaseTTL() time.Duration {
	minutes := o.cfg.Lease.TimeoutMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// ProcessNote runs one job through the pipeline end to end. It never retries
// inline; a failure is classified, recorded, and left for a later batch.
func (o *Orchestrator) ProcessNote(ctx context.Context, jobID string, opts ProcessOptions) error {
	if err := o.cfg.Validate(); err != nil {
		return services.Wrap(services.ErrConfiguration, "orchestrator", "process", "invalid configuration", err)
	}

	job, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "process", "load job", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "orchestrator", "process", "job not found: "+jobID, nil)
	}
	if job.IsProcessed() && !opts.Force {
		o.logger.Info("job already processed, skipping", logging.String(logging.FieldJobID, jobID))
		return nil
	}

	if !opts.Force {
		acquired, err := o.leases.Acquire(ctx, jobID, o.leaseTTL())
		if err != nil {
			return services.Wrap(services.ErrTransient, "orchestrator", "lease", "acquire lease", err)
		}
		if !acquired {
			return o.resolveLeaseRefusal(ctx, jobID)
		}

		// Re-read under the lease: the job may have been completed and
		// released between the first read and the acquire.
		job, err = o.store.GetByID(ctx, jobID)
		if err != nil || job == nil {
			o.releaseQuietly(ctx, jobID)
			return services.Wrap(services.ErrTransient, "orchestrator", "process", "reload job under lease", err)
		}
		if job.IsProcessed() {
			o.releaseQuietly(ctx, jobID)
			o.logger.Info("job completed by another worker", logging.String(logging.FieldJobID, jobID))
			return nil
		}
	}

	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithUserID(ctx, job.UserID)
	log := logging.WithContext(ctx, o.logger)

	if err := o.store.MarkAttemptStarted(ctx, jobID); err != nil {
		log.Warn("record attempt start", logging.Error(err))
	}
	job.Attempts++
	o.metrics.JobStarted(jobID, job.UserID, job.Attempts)

	transcript := job.Transcription
	if !job.HasTranscription() {
		transcript, err = o.runAudioStages(ctx, log, job)
		if err != nil {
			return o.fail(ctx, job, opts, err)
		}
	} else {
		log.Info("transcript already persisted, resuming at analysis")
	}

	result, err := o.runAnalysisStage(ctx, log, job, transcript)
	if err != nil {
		return o.fail(ctx, job, opts, err)
	}

	if err := o.save(ctx, log, job, result); err != nil {
		return o.fail(ctx, job, opts, err)
	}

	if !opts.Force {
		if err := o.leases.Release(ctx, jobID); err != nil {
			log.Warn("release lease after completion", logging.Error(err))
		}
	}
	o.metrics.JobCompleted(jobID)
	log.Info("job completed",
		logging.Int("attempt", job.Attempts),
		logging.Int("transcript_chars", len(transcript)),
	)
	return nil
}

func (o *Orchestrator) releaseQuietly(ctx context.Context, jobID string) {
	if err := o.leases.Release(ctx, jobID); err != nil {
		o.logger.Warn("release lease", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}

// resolveLeaseRefusal disambiguates a refused acquire by re-reading the job:
// a completed job is a success, unknown state is a transient failure, and
// anything else means another worker owns the job right now.
func (o *Orchestrator) resolveLeaseRefusal(ctx context.Context, jobID string) error {
	job, err := o.store.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "lease",
			"lease refused and job state unknown", err)
	}
	if job.IsProcessed() {
		o.logger.Info("job completed by another worker", logging.String(logging.FieldJobID, jobID))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrLocked, jobID)
}

// runAudioStages downloads the source, analyzes and normalizes the
// container, transcribes it, and persists the transcript before returning.
// Persisting first makes a crash between transcription and analysis cheap: a
// rerun resumes at analysis.
func (o *Orchestrator) runAudioStages(ctx context.Context, log *slog.Logger, job *queue.Job) (string, error) {
	o.stage(ctx, job, queue.StatusDownloading)
	obj, err := o.downloader.Download(ctx, job.SourcePath)
	if err != nil {
		return "", err
	}

	mimeType := job.MIMEType
	if mimeType == "" {
		mimeType = obj.ContentType
	}
	filename := job.Filename
	if filename == "" {
		filename = filepath.Base(job.SourcePath)
	}

	header := obj.Data
	if len(header) > container.HeaderSize {
		header = header[:container.HeaderSize]
	}
	info := container.Analyze(header, mimeType, filename)
	for _, warning := range info.Warnings {
		log.Warn("container analysis", logging.String("warning", warning))
	}

	normalized := o.normalizer.Normalize(ctx, obj.Data, info)
	upload := o.normalizer.CompressForUpload(ctx, normalized.Data, normalized.Format)
	for _, warning := range append(normalized.Warnings, upload.Warnings...) {
		log.Warn("normalization", logging.String("warning", warning))
	}

	o.stage(ctx, job, queue.StatusTranscribing)
	var result *transcribe.Result
	err = o.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = o.transcriber.Transcribe(ctx, transcribe.Request{
			Data:     upload.Data,
			Filename: filename,
			MIMEType: upload.MIMEType,
			Language: o.cfg.Transcription.Language,
		})
		return innerErr
	})
	if err != nil {
		return "", err
	}

	if err := o.store.SaveTranscription(ctx, job.ID, result.Text); err != nil {
		return "", services.Wrap(services.ErrTransient, "orchestrator", "transcribe", "persist transcript", err)
	}
	job.Transcription = result.Text
	log.Info("transcription persisted",
		logging.Int("chars", len(result.Text)),
		logging.Int("chunks", result.Chunks),
	)
	return result.Text, nil
}

func (o *Orchestrator) runAnalysisStage(ctx context.Context, log *slog.Logger, job *queue.Job, transcript string) (*analysis.NoteAnalysis, error) {
	o.stage(ctx, job, queue.StatusAnalyzing)

	knowledge, err := o.store.UserKnowledge(ctx, job.UserID)
	if err != nil {
		log.Warn("load user knowledge", logging.Error(err))
		knowledge = ""
	}

	var result *analysis.NoteAnalysis
	err = o.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = o.analyzer.Analyze(ctx, analysis.Input{
			Transcript:    transcript,
			UserKnowledge: knowledge,
			RecordedAt:    job.RecordedAt,
		})
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	log.Info("analysis complete",
		logging.Int("key_points", len(result.KeyPoints)),
		logging.Int("action_items", len(result.ActionItems)),
		logging.Int("passes", result.Passes),
	)
	return result, nil
}

func (o *Orchestrator) save(ctx context.Context, log *slog.Logger, job *queue.Job, result *analysis.NoteAnalysis) error {
	o.stage(ctx, job, queue.StatusSaving)

	encoded, err := json.Marshal(result)
	if err != nil {
		return services.Wrap(services.ErrValidation, "orchestrator", "save", "encode analysis", err)
	}
	if err := o.store.MarkCompleted(ctx, job.ID, string(encoded)); err != nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "save", "mark completed", err)
	}

	if fragment := knowledgeFragment(result, job.RecordedAt); fragment != "" {
		if err := o.store.AppendUserKnowledge(ctx, job.UserID, fragment); err != nil {
			log.Warn("append user knowledge", logging.Error(err))
		}
	}
	return nil
}

// knowledgeFragment condenses an analysis into one line of accumulated
// context for the speaker's future notes.
func knowledgeFragment(result *analysis.NoteAnalysis, recordedAt time.Time) string {
	summary := result.Summary
	if summary == "" {
		return ""
	}
	if recordedAt.IsZero() {
		return summary
	}
	return fmt.Sprintf("[%s] %s", recordedAt.Format("2006-01-02"), summary)
}

// stage transitions the job's status and the metrics stage timer together.
// Status update failures are logged, not fatal; the pipeline state machine
// continues and the final persist will surface real storage trouble.
func (o *Orchestrator) stage(ctx context.Context, job *queue.Job, status queue.Status) {
	o.metrics.StageStarted(job.ID, string(status))
	if err := o.store.SetStatus(ctx, job.ID, status); err != nil {
		o.logger.Warn("set job status",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(status)),
			logging.Error(err),
		)
	} else {
		job.Status = status
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *queue.Job, opts ProcessOptions, cause error) error {
	classification := errclass.Classify(cause)
	message := cause.Error()

	if err := o.store.RecordFailure(ctx, job.ID, message, string(classification.Category)); err != nil {
		o.logger.Error("record failure", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}
	if !opts.Force {
		if err := o.leases.ReleaseWithError(ctx, job.ID, message); err != nil {
			o.logger.Warn("release lease after failure", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
	o.metrics.JobFailed(job.ID, classification.Category)
	o.logger.Error("job failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldErrorCategory, string(classification.Category)),
		logging.String("severity", string(classification.Severity)),
		logging.Bool("retryable", classification.Retryable),
		logging.Error(cause),
	)
	if o.cfg.Notifications.Errors {
		if err := o.notifier.NotifyJobFailed(ctx, job.ID, string(classification.Category), cause); err != nil {
			o.logger.Warn("send failure notification", logging.Error(err))
		}
	}
	return cause
}
