package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
)

// newPipeCmd creates the pipe subcommand.
func newPipeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Drive a bar from lines read on stdin",
		Long: `Reads stdin line by line and turns each line into a bar update:

  empty line   advance by one step
  a number     set the bar to that value
  anything     print it as a line (text mode only)

For example:
  seq 1 50 | patiencebar pipe --max 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.serveMetrics(); err != nil {
				return err
			}
			return runPipe(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().Float64("max", bar.DefaultMax, "Value at which the bar is complete")
	cmd.Flags().Int("width", 0, "Bar width in characters (0 fits the terminal)")
	cmd.Flags().String("title", "", "Line printed once above the bar")
	cmd.Flags().Bool("bar", true, "Draw a bar; when false print every line")
	cmd.Flags().Int("up-every", 2, "Percent the bar must advance between redraws")
	cmd.Flags().Duration("yield", bar.DefaultYield, "Pause of the rendering goroutine after each event")

	return cmd
}

func runPipe(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	sb := bar.NewSerialized(a.barOptions(bar.WithOutput(out))...)
	defer sb.Stop()

	n := 0
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		sb.Update(bar.ParseEvent(sc.Text()))
		n++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	a.logger.Debug("stdin closed", zap.Int("events", n))

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := sb.Close(closeCtx); err != nil {
		return err
	}
	// Input ended early: move off the unfinished bar line.
	if sb.BarEnabled() && sb.Value() < sb.Max() {
		fmt.Fprintln(out)
	}
	return nil
}
