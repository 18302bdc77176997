package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/orchestrator"
	"murmur/internal/queue"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var batchSize int
	var jobID string
	var force bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process the next batch of pending recordings (or one job with --job)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(cfg *config.Config, store *queue.Store, orch *orchestrator.Orchestrator) error {
				if jobID != "" {
					err := orch.ProcessNote(cmd.Context(), jobID, orchestrator.ProcessOptions{Force: force})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "job %s processed\n", jobID)
					return nil
				}

				result, err := orch.ProcessNextBatch(cmd.Context(), batchSize)
				if err != nil {
					return err
				}
				if jsonOut || !stdoutIsTerminal() {
					return writeJSON(cmd, result)
				}
				renderBatchResult(cmd, result)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Number of jobs to process (default from config)")
	cmd.Flags().StringVar(&jobID, "job", "", "Process a single job by id")
	cmd.Flags().BoolVar(&force, "force", false, "Reprocess even if the job already completed (requires --job)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the batch result as JSON")
	return cmd
}

func renderBatchResult(cmd *cobra.Command, result *orchestrator.BatchResult) {
	rows := [][]string{
		{"eligible", strconv.Itoa(result.Eligible)},
		{"processed", strconv.Itoa(result.Processed)},
		{"failed", strconv.Itoa(result.Failed)},
		{"skipped", strconv.Itoa(result.Skipped)},
		{"swept leases", strconv.FormatInt(result.Swept, 10)},
		{"duration", result.Duration.Round(time.Millisecond).String()},
	}
	for category, count := range result.Categories {
		rows = append(rows, []string{"failures: " + category, strconv.Itoa(count)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Metric", "Value"}, rows,
		[]columnAlignment{alignLeft, alignRight},
	))
}
