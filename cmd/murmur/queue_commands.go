package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/media/probe"
	"murmur/internal/queue"
)

// probeBinary derives the ffprobe location from the configured ffmpeg path,
// assuming the two ship side by side.
func probeBinary(cfg *config.Config) string {
	ffmpeg := cfg.Workflow.FFmpegBinary
	if ffmpeg == "" || ffmpeg == "ffmpeg" {
		return "ffprobe"
	}
	return filepath.Join(filepath.Dir(ffmpeg), "ffprobe")
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the recording queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var statuses []queue.Status
				if statusFilter != "" {
					status, ok := queue.ParseStatus(statusFilter)
					if !ok {
						return fmt.Errorf("unknown status %q", statusFilter)
					}
					statuses = append(statuses, status)
				}
				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut || !stdoutIsTerminal() {
					return writeJSON(cmd, queueListPayload(jobs))
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.UserID,
						string(job.Status),
						strconv.Itoa(job.Attempts),
						job.Filename,
						job.RecordedAt.Format(time.RFC3339),
						job.ErrorCategory,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "User", "Status", "Attempts", "File", "Recorded", "Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, failed, completed, ...)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit jobs as JSON")
	return cmd
}

type queueListItem struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	Filename      string    `json:"filename"`
	RecordedAt    time.Time `json:"recorded_at"`
	ErrorCategory string    `json:"error_category,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

func queueListPayload(jobs []*queue.Job) []queueListItem {
	items := make([]queueListItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, queueListItem{
			ID:            job.ID,
			UserID:        job.UserID,
			Status:        string(job.Status),
			Attempts:      job.Attempts,
			Filename:      job.Filename,
			RecordedAt:    job.RecordedAt,
			ErrorCategory: job.ErrorCategory,
			ErrorMessage:  job.ErrorMessage,
		})
	}
	return items
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var removed int64
				var err error
				if completedOnly {
					removed, err = store.ClearCompleted(cmd.Context())
				} else {
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Only remove completed jobs")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var duration float64

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Enqueue a recording for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("recording not accessible: %w", err)
				}
				mimeType := mime.TypeByExtension(filepath.Ext(path))
				if mimeType == "" {
					mimeType = "application/octet-stream"
				}
				if duration <= 0 {
					// Best effort; the batch sorter treats 0 as unknown.
					if rec, probeErr := probe.New(probeBinary(cfg)).Inspect(cmd.Context(), path); probeErr == nil {
						duration = rec.DurationSeconds()
					}
				}
				job, err := store.NewJob(cmd.Context(), userID, path, mimeType, info.ModTime().UTC(), duration)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s as job %s\n", job.Filename, job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Owner of the recording")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Recording length in seconds, if known")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed jobs (all of them when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				requeued, err := store.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d jobs\n", requeued)
				return nil
			})
		},
	}
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return jobs stuck in a processing state to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reset, err := store.ResetStuck(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d jobs\n", reset)
				return nil
			})
		},
	}
	return cmd
}
