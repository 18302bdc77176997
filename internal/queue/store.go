package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"murmur/internal/config"
)

// sqliteTimeFormat is fixed-width so SQLite's lexicographic TEXT comparison
// matches chronological order. RFC3339Nano trims trailing fractional zeros,
// which breaks ordering for sub-second neighbors.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewJob inserts a pending job for an uploaded recording.
func (s *Store) NewJob(ctx context.Context, userID, sourcePath, mimeType string, recordedAt time.Time, durationSeconds float64) (*Job, error) {
	userID = strings.TrimSpace(userID)
	sourcePath = strings.TrimSpace(sourcePath)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	id := uuid.NewString()
	now := formatTime(time.Now())

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, user_id, source_path, mime_type, filename, status,
            duration_seconds, recorded_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		userID,
		sourcePath,
		nullableString(mimeType),
		nullableString(filepath.Base(sourcePath)),
		StatusPending,
		durationSeconds,
		formatTime(recordedAt),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when no row exists.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job. Lease columns are managed
// separately by the lease store.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET user_id = ?, source_path = ?, mime_type = ?, filename = ?,
             priority = ?, attempts = ?, duration_seconds = ?, status = ?,
             transcription = ?, analysis_json = ?, error_message = ?,
             error_category = ?, recorded_at = ?, updated_at = ?, processed_at = ?
         WHERE id = ?`,
		job.UserID,
		job.SourcePath,
		nullableString(job.MIMEType),
		nullableString(job.Filename),
		job.Priority,
		job.Attempts,
		job.DurationSeconds,
		job.Status,
		nullableString(job.Transcription),
		nullableString(job.AnalysisJSON),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorCategory),
		formatTime(job.RecordedAt),
		formatTime(job.UpdatedAt),
		nullableTime(job.ProcessedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// SaveTranscription persists the transcript as soon as it is produced so a
// crash mid-analysis does not force a re-transcription.
func (s *Store) SaveTranscription(ctx context.Context, id, transcription string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET transcription = ?, updated_at = ? WHERE id = ?`,
		transcription,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	return nil
}

// MarkCompleted records the final analysis, clears error fields, and stamps
// the job processed.
func (s *Store) MarkCompleted(ctx context.Context, id, analysisJSON string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, analysis_json = ?, error_message = NULL,
             error_category = NULL, processed_at = ?, updated_at = ?
         WHERE id = ?`,
		StatusCompleted,
		analysisJSON,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkAttemptStarted consumes one unit of retry budget as processing begins.
// Counting at the start rather than on failure means a worker crash mid-job
// still spends an attempt, so a crash-looping job parks instead of retrying
// forever.
func (s *Store) MarkAttemptStarted(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark attempt started: %w", err)
	}
	return nil
}

// RecordFailure marks the job failed with its classified error. The attempt
// counter is managed by MarkAttemptStarted.
func (s *Store) RecordFailure(ctx context.Context, id, message, category string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, error_category = ?, updated_at = ?
         WHERE id = ?`,
		StatusFailed,
		message,
		nullableString(category),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// SetStatus transitions a job to the given status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// EligibleJobs returns up to limit jobs that are ready for processing:
// pending or failed-with-attempts-remaining, with no live lease. Final
// prioritization happens in the orchestrator.
func (s *Store) EligibleJobs(ctx context.Context, limit, maxAttempts int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := formatTime(time.Now())
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status IN (?, ?)
           AND attempts < ?
           AND (lock_expires_at IS NULL OR lock_expires_at < ?)
         ORDER BY recorded_at
         LIMIT ?`,
		StatusPending,
		StatusFailed,
		maxAttempts,
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// List returns jobs filtered by status set (or all jobs when none given).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ResetStuck forces jobs stuck in processing states back to pending and
// clears their leases. Used by the force-reset CLI entry point.
func (s *Store) ResetStuck(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, locked_at = NULL, lock_expires_at = NULL,
             lock_holder = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusPending,
		formatTime(time.Now()),
		StatusDownloading,
		StatusTranscribing,
		StatusAnalyzing,
		StatusSaving,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to pending and resets their attempt
// counters so a force-reprocess gets a fresh retry budget.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := formatTime(time.Now())
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = 0, error_message = NULL,
                 error_category = NULL, updated_at = ?
             WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed)
	query := `UPDATE jobs
        SET status = ?, attempts = 0, error_message = NULL,
            error_category = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summary aggregates job state for diagnostic output.
func (s *Store) Summary(ctx context.Context) (StatsSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return StatsSummary{}, err
	}
	summary := StatsSummary{}
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		default:
			if _, ok := processingStatuses[status]; ok {
				summary.Processing += count
			}
		}
	}
	return summary, nil
}

// StatsByUser returns per-user job counts ordered by user id.
func (s *Store) StatsByUser(ctx context.Context) ([]UserStats, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT user_id, status, COUNT(1) FROM jobs GROUP BY user_id, status ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	defer rows.Close()

	byUser := make(map[string]*UserStats)
	var order []string
	for rows.Next() {
		var (
			userID string
			status Status
			count  int
		)
		if err := rows.Scan(&userID, &status, &count); err != nil {
			return nil, err
		}
		entry, ok := byUser[userID]
		if !ok {
			entry = &UserStats{UserID: userID}
			byUser[userID] = entry
			order = append(order, userID)
		}
		entry.Total += count
		switch status {
		case StatusPending:
			entry.Pending += count
		case StatusCompleted:
			entry.Completed += count
		case StatusFailed:
			entry.Failed += count
		default:
			if _, ok := processingStatuses[status]; ok {
				entry.Processing += count
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]UserStats, 0, len(order))
	for _, userID := range order {
		result = append(result, *byUser[userID])
	}
	return result, nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed jobs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, user_id, source_path, mime_type, filename, priority, attempts, duration_seconds, status, transcription, analysis_json, error_message, error_category, recorded_at, created_at, updated_at, processed_at, locked_at, lock_expires_at, lock_holder"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            string
		userID        string
		sourcePath    string
		mimeType      sql.NullString
		filename      sql.NullString
		priority      sql.NullInt64
		attempts      sql.NullInt64
		duration      sql.NullFloat64
		statusStr     string
		transcription sql.NullString
		analysisJSON  sql.NullString
		errorMessage  sql.NullString
		errorCategory sql.NullString
		recordedRaw   sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		processedRaw  sql.NullString
		lockedRaw     sql.NullString
		expiresRaw    sql.NullString
		lockHolder    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&sourcePath,
		&mimeType,
		&filename,
		&priority,
		&attempts,
		&duration,
		&statusStr,
		&transcription,
		&analysisJSON,
		&errorMessage,
		&errorCategory,
		&recordedRaw,
		&createdRaw,
		&updatedRaw,
		&processedRaw,
		&lockedRaw,
		&expiresRaw,
		&lockHolder,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		UserID:          userID,
		SourcePath:      sourcePath,
		MIMEType:        mimeType.String,
		Filename:        filename.String,
		Priority:        int(priority.Int64),
		Attempts:        int(attempts.Int64),
		DurationSeconds: duration.Float64,
		Status:          Status(statusStr),
		Transcription:   transcription.String,
		AnalysisJSON:    analysisJSON.String,
		ErrorMessage:    errorMessage.String,
		ErrorCategory:   errorCategory.String,
		LockHolder:      lockHolder.String,
	}

	if recorded, err := parseTimeString(recordedRaw.String); err == nil {
		job.RecordedAt = recorded
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if processedRaw.Valid {
		if processed, err := parseTimeString(processedRaw.String); err == nil {
			job.ProcessedAt = &processed
		}
	}
	if lockedRaw.Valid {
		if locked, err := parseTimeString(lockedRaw.String); err == nil {
			job.LockedAt = &locked
		}
	}
	if expiresRaw.Valid {
		if expires, err := parseTimeString(expiresRaw.String); err == nil {
			job.LockExpiresAt = &expires
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
