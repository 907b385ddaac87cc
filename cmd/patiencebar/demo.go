package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/types"
)

// Demo runs, in the order "all" plays them.
const (
	runSingle  = "single"
	runThreads = "threads"
	runText    = "text"
	runAll     = "all"
)

// demoOptions holds CLI flags for the demo command.
type demoOptions struct {
	run       string
	producers int
	jobs      int
	processes bool
	maxSleep  time.Duration
}

// demoJob squares one random value after a delay proportional to it.
type demoJob struct {
	index int
	value float64
}

func (j demoJob) line() string {
	return strconv.Itoa(j.index) + " " + strconv.FormatFloat(j.value, 'g', -1, 64)
}

func parseDemoJob(line string) (demoJob, error) {
	idx, val, ok := strings.Cut(line, " ")
	if !ok {
		return demoJob{}, fmt.Errorf("malformed job %q", line)
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		return demoJob{}, fmt.Errorf("job index: %w", err)
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return demoJob{}, fmt.Errorf("job value: %w", err)
	}
	return demoJob{index: i, value: v}, nil
}

// work sleeps, squares the value and reports it on u: a step, or a text line
// when text is set.
func (j demoJob) work(ctx context.Context, u bar.Updater, scale time.Duration, text bool) (float64, error) {
	if err := sleep(ctx, time.Duration(j.value*float64(scale))); err != nil {
		return 0, err
	}
	sq := j.value * j.value
	if text {
		u.Update(bar.Text(fmt.Sprintf("Just got %dth element done: %f", j.index, sq)))
	} else {
		u.Update(bar.Step())
	}
	return sq, nil
}

// newDemoCmd creates the demo subcommand.
func newDemoCmd(a *app) *cobra.Command {
	opts := &demoOptions{
		run:       runAll,
		producers: 5,
		jobs:      10,
		maxSleep:  200 * time.Millisecond,
	}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Show a single-writer bar, then concurrent producers sharing one bar",
		Long: `Plays up to three runs:

  single   one goroutine steps a 34-step bar, 50 characters wide, titled "Test bar"
  threads  --producers goroutines square --jobs random values, each stepping a shared bar
  text     the shared bar is reset to text mode and producers report lines instead

With --processes the producers of the threads and text runs are child
processes whose events reach the bar over a pipe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.serveMetrics(); err != nil {
				return err
			}
			return runDemo(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.run, "run", opts.run, "Which run to play: single, threads, text or all")
	cmd.Flags().IntVarP(&opts.producers, "producers", "p", opts.producers, "Concurrent producers in the threads and text runs")
	cmd.Flags().IntVar(&opts.jobs, "jobs", opts.jobs, "Values to square in the threads and text runs")
	cmd.Flags().BoolVar(&opts.processes, "processes", false, "Use child processes instead of goroutines as producers")
	cmd.Flags().DurationVar(&opts.maxSleep, "max-sleep", opts.maxSleep, "Longest simulated work per step")
	cmd.Flags().Int("up-every", 2, "Percent the bar must advance between redraws")
	cmd.Flags().Duration("yield", bar.DefaultYield, "Pause of the rendering goroutine after each event")

	return cmd
}

func runDemo(ctx context.Context, a *app, opts *demoOptions) error {
	if opts.producers <= 0 || opts.jobs <= 0 {
		return fmt.Errorf("--producers and --jobs must be positive")
	}

	switch opts.run {
	case runSingle:
		return demoSingle(ctx, a, opts)
	case runThreads, runText:
		sb := newDemoBar(a, opts)
		defer sb.Stop()
		if opts.run == runText {
			sb.Reset(bar.WithBar(false))
		}
		return demoShared(ctx, a, sb, opts, opts.run == runText)
	case runAll:
		if err := demoSingle(ctx, a, opts); err != nil {
			return err
		}
		sb := newDemoBar(a, opts)
		defer sb.Stop()
		if err := demoShared(ctx, a, sb, opts, false); err != nil {
			return err
		}
		// Everything defined at construction stays as it is.
		sb.Reset(bar.WithBar(false))
		return demoShared(ctx, a, sb, opts, true)
	default:
		return fmt.Errorf("unknown run %q", opts.run)
	}
}

// demoSingle drives a plain Bar from this goroutine only.
func demoSingle(ctx context.Context, a *app, opts *demoOptions) error {
	const steps = 34

	b := bar.New(a.barOptions(
		bar.WithMax(steps),
		bar.WithWidth(50),
		bar.WithTitle("Test bar"),
		bar.WithBar(true),
	)...)

	for range steps {
		if err := sleep(ctx, randDuration(opts.maxSleep)); err != nil {
			return err
		}
		b.Update(bar.Step())
	}
	return nil
}

func newDemoBar(a *app, opts *demoOptions) *bar.Serialized {
	return bar.NewSerialized(a.barOptions(
		bar.WithMax(float64(opts.jobs)),
		bar.WithWidth(30),
		bar.WithTitle("Heavy calculation of the square of a vector"),
		bar.WithBar(true),
	)...)
}

// demoShared squares random values with opts.producers concurrent producers,
// all reporting to sb, and waits for the bar to render everything.
func demoShared(ctx context.Context, a *app, sb *bar.Serialized, opts *demoOptions, text bool) error {
	jobs := make([]demoJob, opts.jobs)
	for i := range jobs {
		jobs[i] = demoJob{index: i, value: rand.Float64()}
	}

	var (
		squares map[int]float64
		err     error
	)
	if opts.processes {
		squares, err = demoInWorkers(ctx, a, sb, jobs, opts, text)
	} else {
		squares, err = demoInGoroutines(ctx, sb, jobs, opts, text)
	}
	if err != nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := sb.Close(closeCtx); err != nil {
		return err
	}

	a.logger.Debug("demo run finished", zap.Bool("text", text), zap.Int("squares", len(squares)))
	return nil
}

func demoInGoroutines(ctx context.Context, sb *bar.Serialized, jobs []demoJob, opts *demoOptions, text bool) (map[int]float64, error) {
	jobCh := make(chan demoJob)
	go func() {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		mu      sync.Mutex
		squares = make(map[int]float64, len(jobs))
		wg      sync.WaitGroup
	)
	for range opts.producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				sq, err := j.work(ctx, sb, 2*opts.maxSleep, text)
				if err != nil {
					continue
				}
				mu.Lock()
				squares[j.index] = sq
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return squares, fmt.Errorf("demo interrupted: %w", err)
	}
	return squares, nil
}

// demoInWorkers hands each child process an interleaved share of the jobs.
func demoInWorkers(ctx context.Context, a *app, sb *bar.Serialized, jobs []demoJob, opts *demoOptions, text bool) (map[int]float64, error) {
	sorted := types.NewSorted(jobs, func(j demoJob) int { return j.index })
	args := []string{"demo", "--max-sleep", opts.maxSleep.String()}
	if text {
		args = append(args, "--text")
	}

	var (
		mu       sync.Mutex
		squares  = make(map[int]float64, len(jobs))
		firstErr error
		wg       sync.WaitGroup
	)
	for i := range opts.producers {
		shard := sorted.Shard(i, opts.producers)
		if len(shard) == 0 {
			continue
		}
		input := make([]string, len(shard))
		for k, j := range shard {
			input[k] = j.line()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			lines, err := spawnWorker(ctx, args, input, sb, a.logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for _, line := range lines {
				r, err := parseDemoJob(line)
				if err != nil {
					a.logger.Warn("ignoring worker output", zap.String("line", line), zap.Error(err))
					continue
				}
				squares[r.index] = r.value
			}
		}()
	}
	wg.Wait()

	return squares, firstErr
}

// runDemoWorker is the child side of demoInWorkers: jobs on stdin, events on
// the relay, squares on stdout.
func runDemoWorker(ctx context.Context, maxSleep time.Duration, text bool) error {
	w, f, err := openRelay()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	lines, err := readLines(os.Stdin)
	if err != nil {
		return err
	}
	for _, line := range lines {
		j, err := parseDemoJob(line)
		if err != nil {
			return err
		}
		sq, err := j.work(ctx, w, 2*maxSleep, text)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, demoJob{index: j.index, value: sq}.line())
	}
	return w.Err()
}

func randDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
