package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"scoreforge/internal/jobs"
	"scoreforge/internal/preflight"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show preflight checks and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := false
			if f, ok := out.(*os.File); ok {
				colorize = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
			}

			fmt.Fprintln(out, "Preflight:")
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				fmt.Fprintln(out, renderCheckLine(result, colorize))
			}

			store, err := jobs.Open(cfg.QueuePath())
			if err != nil {
				// The daemon may never have run here; the checks above are
				// still useful on their own.
				fmt.Fprintf(out, "\nQueue unavailable: %v\n", err)
				return nil
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue stats: %w", err)
			}
			fmt.Fprintln(out, "\nQueue:")
			for _, status := range []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusDone, jobs.StatusError} {
				fmt.Fprintf(out, "  %-8s %d\n", string(status)+":", stats[status])
			}
			return nil
		},
	}
}

func renderCheckLine(result preflight.Result, colorize bool) string {
	marker := "FAIL"
	color := ansiRed
	if result.Passed {
		marker = "OK"
		color = ansiGreen
	}
	line := fmt.Sprintf("  %-22s [%s] %s", result.Name+":", marker, result.Detail)
	if colorize {
		return color + line + ansiReset
	}
	return line
}
