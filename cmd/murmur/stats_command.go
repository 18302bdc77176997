package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/queue"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var byUser bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if byUser {
					stats, err := store.StatsByUser(cmd.Context())
					if err != nil {
						return err
					}
					if jsonOut || !stdoutIsTerminal() {
						return writeJSON(cmd, stats)
					}
					rows := make([][]string, 0, len(stats))
					for _, s := range stats {
						rows = append(rows, []string{
							s.UserID,
							strconv.Itoa(s.Total),
							strconv.Itoa(s.Pending),
							strconv.Itoa(s.Processing),
							strconv.Itoa(s.Completed),
							strconv.Itoa(s.Failed),
						})
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderTable(
						[]string{"User", "Total", "Pending", "Processing", "Completed", "Failed"}, rows,
						[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
					))
					return nil
				}

				summary, err := store.Summary(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut || !stdoutIsTerminal() {
					return writeJSON(cmd, map[string]int{
						"total":      summary.Total,
						"pending":    summary.Pending,
						"processing": summary.Processing,
						"completed":  summary.Completed,
						"failed":     summary.Failed,
					})
				}
				rows := [][]string{
					{"total", strconv.Itoa(summary.Total)},
					{"pending", strconv.Itoa(summary.Pending)},
					{"processing", strconv.Itoa(summary.Processing)},
					{"completed", strconv.Itoa(summary.Completed)},
					{"failed", strconv.Itoa(summary.Failed)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"}, rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&byUser, "user", false, "Break statistics down per user")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit statistics as JSON")
	return cmd
}
