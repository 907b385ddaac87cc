package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newWorkerCmd creates the hidden worker subcommand run in child processes.
// Bar events go to file descriptor 3, results to stdout.
func newWorkerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Child process side of --processes",
		Hidden: true,
	}

	var (
		maxSleep time.Duration
		text     bool
	)
	demo := &cobra.Command{
		Use:  "demo",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Debug("demo worker started", zap.Duration("max_sleep", maxSleep), zap.Bool("text", text))
			return runDemoWorker(cmd.Context(), maxSleep, text)
		},
	}
	demo.Flags().DurationVar(&maxSleep, "max-sleep", 200*time.Millisecond, "Longest simulated work per step")
	demo.Flags().BoolVar(&text, "text", false, "Report text lines instead of steps")

	hash := &cobra.Command{
		Use:  "hash",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashWorker(cmd.Context(), a)
		},
	}
	hash.Flags().IntP("workers", "w", 1, "Number of parallel workers")

	cmd.AddCommand(demo, hash)
	return cmd
}
