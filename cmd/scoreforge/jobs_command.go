package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"scoreforge/internal/jobs"
	"scoreforge/internal/manager"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var statusFilter []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List transcription jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobs.Open(cfg.QueuePath())
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			list, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(statusFilter) > 0 {
				list, err = filterByStatus(list, statusFilter)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				views := make([]manager.JobView, 0, len(list))
				for _, job := range list {
					views = append(views, manager.NewJobView(job))
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(map[string]any{"jobs": views})
			}

			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			headers := []string{"ID", "Status", "Progress", "Source", "Created", "Expires", "Error"}
			rows := make([][]string, 0, len(list))
			now := time.Now()
			for _, job := range list {
				rows = append(rows, []string{
					shortID(job.ID),
					string(job.Status),
					strconv.Itoa(job.Progress) + "%",
					job.SourceFile,
					job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					expiresLabel(job, now),
					job.ErrorMessage,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, "Progress"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Only show jobs with these statuses (queued, running, done, error)")
	return cmd
}

func filterByStatus(list []*jobs.Job, wanted []string) ([]*jobs.Job, error) {
	allowed := make(map[jobs.Status]bool, len(wanted))
	for _, raw := range wanted {
		status := jobs.Status(raw)
		switch status {
		case jobs.StatusQueued, jobs.StatusRunning, jobs.StatusDone, jobs.StatusError:
			allowed[status] = true
		default:
			return nil, fmt.Errorf("unknown status %q", raw)
		}
	}
	filtered := make([]*jobs.Job, 0, len(list))
	for _, job := range list {
		if allowed[job.Status] {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func expiresLabel(job *jobs.Job, now time.Time) string {
	if job.ExpiresAt == nil {
		return ""
	}
	remaining := job.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return "expired"
	}
	return remaining.Truncate(time.Second).String()
}
