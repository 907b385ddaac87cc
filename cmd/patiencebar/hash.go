package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/cache"
	"github.com/ivoronin/patiencebar/internal/hasher"
	"github.com/ivoronin/patiencebar/internal/logging"
	"github.com/ivoronin/patiencebar/internal/progress"
	"github.com/ivoronin/patiencebar/internal/scanner"
	"github.com/ivoronin/patiencebar/internal/types"
)

// hashOptions holds CLI flags for the hash command.
type hashOptions struct {
	minSizeStr string
	excludes   []string
	noProgress bool
	processes  int
	cacheFile  string
}

// newHashCmd creates the hash subcommand.
func newHashCmd(a *app) *cobra.Command {
	opts := &hashOptions{minSizeStr: "0"}

	cmd := &cobra.Command{
		Use:   "hash [paths...]",
		Short: "Print SHA-256 digests of files while a progress bar tracks the work",
		Long: `Finds regular files under the given paths and hashes them. Every finished
file advances one shared progress bar. Digests are printed after the bar
completes, sorted by path, in the format of sha256sum.

With --processes the files not found in the cache are split across that
many child processes; their progress reaches the bar over a pipe.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.serveMetrics(); err != nil {
				return err
			}
			return runHash(cmd.Context(), a, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the discovery spinner")
	cmd.Flags().IntVar(&opts.processes, "processes", 0, "Hash in this many child processes instead of goroutines")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to hash cache file (enables caching)")
	cmd.Flags().IntP("workers", "w", runtime.NumCPU(), "Number of parallel workers")
	cmd.Flags().Int("width", 0, "Bar width in characters (0 fits the terminal)")
	cmd.Flags().String("title", "", "Line printed once above the bar")
	cmd.Flags().Bool("bar", true, "Draw a bar; when false print one line per file")
	cmd.Flags().Int("up-every", 2, "Percent the bar must advance between redraws")
	cmd.Flags().Duration("yield", bar.DefaultYield, "Pause of the rendering goroutine after each event")

	return cmd
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears the current terminal line first so the message does not land
// in the middle of a bar.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// runHash executes the pipeline: scan → hash → print.
func runHash(ctx context.Context, a *app, paths []string, opts *hashOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}
	if err := validateRoots(paths); err != nil {
		return err
	}
	if opts.processes < 0 {
		return fmt.Errorf("invalid --processes: must be >= 0")
	}

	errs := make(chan error, 100)
	go drainErrors(errs)
	defer close(errs)

	// Phase 1: Scan filesystem
	files, err := scanner.New(scanner.Options{
		Paths:    paths,
		MinSize:  minSize,
		Excludes: opts.excludes,
		Workers:  a.cfg.Workers,
		Spinner:  progress.NewSpinner(!opts.noProgress, os.Stderr),
		Logger:   logging.Named(a.logger, "scanner"),
		ErrCh:    errs,
	}).Run(ctx)
	if err != nil {
		return err
	}
	if files.Len() == 0 {
		return nil
	}

	// Phase 2: Hash, one bar step per file
	hashCache, err := cache.Open(opts.cacheFile, logging.Named(a.logger, "cache"))
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if err := hashCache.Close(); err != nil {
			a.logger.Warn("close cache", zap.Error(err))
		}
	}()

	sb := bar.NewSerialized(a.barOptions(bar.WithMax(float64(files.Len())))...)
	defer sb.Stop()

	var (
		digests types.Digests
		summary fmt.Stringer
	)
	if opts.processes > 0 {
		digests, summary, err = hashInWorkers(ctx, a, files, hashCache, sb, opts.processes)
	} else {
		h := hasher.New(hasher.Options{
			Workers: a.cfg.Workers,
			Cache:   hashCache,
			Bar:     sb,
			Logger:  logging.Named(a.logger, "hasher"),
			ErrCh:   errs,
		})
		digests, err = h.Run(ctx, files.Items())
		summary = h.Summary()
	}
	if err != nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := sb.Close(closeCtx); err != nil {
		return err
	}

	// Phase 3: Report
	if err := printDigests(os.Stdout, digests); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, summary)
	return nil
}

func printDigests(w io.Writer, digests types.Digests) error {
	for _, d := range digests.Items() {
		if _, err := fmt.Fprintf(w, "%s  %s\n", d.Hex(), d.Path); err != nil {
			return fmt.Errorf("write digests: %w", err)
		}
	}
	return nil
}

// formatWorkerDigest renders d for the parent process. The path is quoted
// so that any byte in a file name survives the trip, newlines included.
func formatWorkerDigest(d types.Digest) string {
	return d.Hex() + "  " + strconv.Quote(d.Path)
}

// parseWorkerDigest parses one line written by formatWorkerDigest.
func parseWorkerDigest(line string) (path string, sum []byte, err error) {
	hexSum, quoted, ok := strings.Cut(line, "  ")
	if !ok {
		return "", nil, fmt.Errorf("malformed digest line %q", line)
	}
	path, err = strconv.Unquote(quoted)
	if err != nil || path == "" {
		return "", nil, fmt.Errorf("malformed path in digest line %q", line)
	}
	sum, err = hex.DecodeString(hexSum)
	if err != nil {
		return "", nil, fmt.Errorf("digest of %s: %w", path, err)
	}
	return path, sum, nil
}

// workerStats summarizes a hash run spread over child processes.
type workerStats struct {
	processes   int
	hashedFiles int
	hashedBytes int64
	cachedFiles int
	cachedBytes int64
	failedFiles int
	startTime   time.Time
}

func (s *workerStats) String() string {
	elapsed := time.Since(s.startTime).Truncate(time.Millisecond)
	return fmt.Sprintf("Hashed %d files (%s) in %d processes, %d from cache (%s), %d failed in %v",
		s.hashedFiles, humanize.IBytes(uint64(s.hashedBytes)), s.processes,
		s.cachedFiles, humanize.IBytes(uint64(s.cachedBytes)),
		s.failedFiles, elapsed)
}

// hashInWorkers answers what it can from the cache itself, then shards the
// remaining files across child processes. Only this process touches the
// cache, since its database is locked per instance.
func hashInWorkers(ctx context.Context, a *app, files types.Files, c *cache.Cache, sb *bar.Serialized, processes int) (types.Digests, fmt.Stringer, error) {
	stats := &workerStats{processes: processes, startTime: time.Now()}
	byPath := make(map[string]*types.FileInfo, files.Len())

	var (
		digests []types.Digest
		misses  []*types.FileInfo
	)
	for _, f := range files.Items() {
		var sum []byte
		if c.Enabled() {
			var err error
			if sum, err = c.Lookup(f); err != nil {
				a.logger.Debug("cache lookup failed", zap.String("path", f.Path), zap.Error(err))
			}
		}
		if sum != nil {
			digests = append(digests, types.Digest{Path: f.Path, Size: f.Size, Sum: sum, Cached: true})
			stats.cachedFiles++
			stats.cachedBytes += f.Size
			sb.Update(bar.Step())
			continue
		}
		byPath[f.Path] = f
		misses = append(misses, f)
	}

	pending := types.NewFiles(misses)
	args := []string{"hash", "--workers", strconv.Itoa(a.cfg.Workers)}
	if a.cfg.Logging.Development {
		args = append(args, "--debug")
	}

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	for i := range processes {
		shard := pending.Shard(i, processes)
		if len(shard) == 0 {
			continue
		}
		input := make([]string, len(shard))
		for k, f := range shard {
			input[k] = strconv.Quote(f.Path)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			lines, err := spawnWorker(ctx, args, input, sb, logging.Named(a.logger, "worker"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for _, line := range lines {
				path, sum, err := parseWorkerDigest(line)
				f, known := byPath[path]
				if err != nil || !known {
					a.logger.Warn("ignoring worker output", zap.String("line", line), zap.Error(err))
					continue
				}
				if err := c.Store(f, sum); err != nil {
					a.logger.Warn("cache store failed", zap.String("path", path), zap.Error(err))
				}
				digests = append(digests, types.Digest{Path: path, Size: f.Size, Sum: sum})
				stats.hashedFiles++
				stats.hashedBytes += f.Size
			}
		}()
	}
	wg.Wait()

	stats.failedFiles = files.Len() - len(digests)
	return types.NewDigests(digests), stats, firstErr
}

// runHashWorker is the child side of hashInWorkers: paths on stdin, steps on
// the relay, digests on stdout.
func runHashWorker(ctx context.Context, a *app) error {
	w, f, err := openRelay()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	lines, err := readLines(os.Stdin)
	if err != nil {
		return err
	}

	errs := make(chan error, 100)
	go drainErrors(errs)
	defer close(errs)

	files := make([]*types.FileInfo, 0, len(lines))
	for _, line := range lines {
		p, err := strconv.Unquote(line)
		if err != nil {
			errs <- fmt.Errorf("malformed path %s: %w", line, err)
			w.Update(bar.Step())
			continue
		}
		st, err := os.Stat(p)
		if err != nil {
			errs <- err
			w.Update(bar.Step())
			continue
		}
		files = append(files, &types.FileInfo{Path: p, Size: st.Size(), ModTime: st.ModTime()})
	}

	digests, err := hasher.New(hasher.Options{
		Workers: a.cfg.Workers,
		Bar:     w,
		Logger:  logging.Named(a.logger, "hasher").With(zap.String("worker", w.Worker())),
		ErrCh:   errs,
	}).Run(ctx, files)
	if err != nil {
		return err
	}
	for _, d := range digests.Items() {
		if _, err := fmt.Fprintln(os.Stdout, formatWorkerDigest(d)); err != nil {
			return fmt.Errorf("write digests: %w", err)
		}
	}
	return w.Err()
}
