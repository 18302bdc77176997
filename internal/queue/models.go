package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a processing job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusSaving       Status = "saving"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusTranscribing,
	StatusAnalyzing,
	StatusSaving,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading:  {},
	StatusTranscribing: {},
	StatusAnalyzing:    {},
	StatusSaving:       {},
}

// Job represents one queued recording persisted in SQLite.
type Job struct {
	ID              string
	UserID          string
	SourcePath      string
	MIMEType        string
	Filename        string
	Priority        int
	Attempts        int
	DurationSeconds float64
	Status          Status
	Transcription   string
	AnalysisJSON    string
	ErrorMessage    string
	ErrorCategory   string
	RecordedAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time

	// Lease bookkeeping; mutated only through the lease store.
	LockedAt      *time.Time
	LockExpiresAt *time.Time
	LockHolder    string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (j Job) IsProcessing() bool {
	_, ok := processingStatuses[j.Status]
	return ok
}

// IsProcessed reports whether the job already completed successfully.
func (j Job) IsProcessed() bool {
	return j.Status == StatusCompleted && j.ProcessedAt != nil
}

// HasTranscription reports whether a transcript was already persisted,
// which lets a retry resume at the analysis stage.
func (j Job) HasTranscription() bool {
	return strings.TrimSpace(j.Transcription) != ""
}

// IsLocked reports whether a live lease exists at the supplied instant.
func (j Job) IsLocked(now time.Time) bool {
	return j.LockExpiresAt != nil && j.LockExpiresAt.After(now)
}

// SetFailed marks the job as failed with the given message and category.
func (j *Job) SetFailed(message, category string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ErrorCategory = category
}

// StatsSummary aggregates job counts per key lifecycle states.
type StatsSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// UserStats holds per-user job counts for the stats CLI surface.
type UserStats struct {
	UserID     string `json:"user_id"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}
