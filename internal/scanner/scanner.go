// Package scanner discovers the files the hash command feeds to its bar.
//
// # Concurrency Model
//
//  1. WALKER GOROUTINES (fan-out)
//     - One goroutine per directory discovered
//     - Directory reads limited by a semaphore (walkerSem)
//     - Each walker: acquire → list directory → release → spawn child walkers
//
//  2. COLLECTOR GOROUTINE (fan-in)
//     - Drains resultCh into a map keyed by path, so roots that overlap
//     yield each file once
//
//  3. CALLER (Run)
//     - Spawns root walkers, waits for them, closes resultCh, waits for the
//     collector, returns files sorted by path
//
// The total is unknown until the walk ends, so progress is shown on a
// spinner rather than a bar.
package scanner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/progress"
	"github.com/ivoronin/patiencebar/internal/types"
)

// Options configures a Scanner.
type Options struct {
	Paths    []string          // root directories
	MinSize  int64             // skip files smaller than this
	Excludes []string          // basename glob patterns, applied to files and directories
	Workers  int               // max concurrent directory reads
	Spinner  *progress.Spinner // optional
	Logger   *zap.Logger       // optional
	ErrCh    chan<- error      // optional; receives non-fatal errors
}

// Scanner discovers files matching filter criteria using parallel directory
// traversal. Create with New, call Run once.
type Scanner struct {
	opts Options

	walkerWg  sync.WaitGroup
	walkerSem types.Semaphore
	resultCh  chan *types.FileInfo
	stats     *stats
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scanner{opts: opts}
}

// stats tracks scanning progress using atomic counters. Reads across the
// counters are not a consistent snapshot, which is fine for display.
type stats struct {
	scannedFiles atomic.Int64
	matchedFiles atomic.Int64
	scannedBytes atomic.Int64
	matchedBytes atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %d (%s), matched %d files (%s) in %.1fs",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())),
		s.matchedFiles.Load(), humanize.IBytes(uint64(s.matchedBytes.Load())),
		time.Since(s.startTime).Seconds())
}

// Run walks every root and returns the matching files sorted by path.
// Walkers stop descending once ctx is done; the files found so far are
// returned together with ctx's error.
func (s *Scanner) Run(ctx context.Context) (types.Files, error) {
	s.walkerSem = types.NewSemaphore(s.opts.Workers)
	s.stats = &stats{startTime: time.Now()}
	s.opts.Spinner.Describe(s.stats)
	s.resultCh = make(chan *types.FileInfo, 1000)

	found := make(map[string]*types.FileInfo)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for f := range s.resultCh {
			if _, dup := found[f.Path]; dup {
				continue
			}
			found[f.Path] = f
			s.stats.matchedFiles.Add(1)
			s.stats.matchedBytes.Add(f.Size)
		}
	}()

	for _, p := range s.opts.Paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			s.sendError(err)
			continue
		}
		s.walkDirectory(ctx, absPath)
	}

	s.walkerWg.Wait()
	close(s.resultCh)
	<-collectorDone

	s.opts.Spinner.Finish(s.stats)
	s.opts.Logger.Debug("scan finished",
		zap.Int64("scanned", s.stats.scannedFiles.Load()),
		zap.Int("matched", len(found)))

	files := make([]*types.FileInfo, 0, len(found))
	for _, f := range found {
		files = append(files, f)
	}
	if err := ctx.Err(); err != nil {
		return types.NewFiles(files), fmt.Errorf("scan interrupted: %w", err)
	}
	return types.NewFiles(files), nil
}

// walkDirectory spawns a goroutine to list one directory and recurse.
// walkerWg.Add happens before the spawn so Wait cannot miss it; the
// semaphore is released before children spawn so they can take it.
func (s *Scanner) walkDirectory(ctx context.Context, dir string) {
	s.walkerWg.Add(1)
	go func() {
		defer s.walkerWg.Done()

		s.walkerSem.Acquire()
		if ctx.Err() != nil {
			s.walkerSem.Release()
			return
		}
		files, subdirs, err := s.listDirectory(dir)
		s.walkerSem.Release()
		if err != nil {
			s.sendError(err)
			return
		}

		for _, f := range files {
			s.stats.scannedFiles.Add(1)
			s.stats.scannedBytes.Add(f.Size)
			if f.Size >= s.opts.MinSize && !s.shouldExclude(f.Path) {
				s.resultCh <- f
			}
		}
		s.opts.Spinner.Describe(s.stats)

		for _, sub := range subdirs {
			s.walkDirectory(ctx, sub)
		}
	}()
}

// listDirectory reads a single directory in batches, returning regular files
// and subdirectories. Symlinks, devices and sockets are skipped.
func (s *Scanner) listDirectory(dirPath string) (files []*types.FileInfo, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return files, subdirs, err
			}
			break
		}

		for _, entry := range entries {
			f, sub := s.processEntry(dirPath, entry)
			if f != nil {
				files = append(files, f)
			}
			if sub != "" {
				subdirs = append(subdirs, sub)
			}
		}
	}

	return files, subdirs, nil
}

// processEntry returns a file or a subdirectory path for one entry, or
// (nil, "") if it is skipped.
func (s *Scanner) processEntry(dirPath string, entry os.DirEntry) (file *types.FileInfo, subdir string) {
	fullPath := filepath.Join(dirPath, entry.Name())

	if entry.IsDir() {
		if s.shouldExclude(fullPath) {
			return nil, ""
		}
		return nil, fullPath
	}

	if !entry.Type().IsRegular() {
		return nil, ""
	}

	info, err := entry.Info()
	if err != nil {
		s.opts.Logger.Debug("skipping file", zap.String("path", fullPath), zap.Error(err))
		return nil, ""
	}

	return newFileInfo(fullPath, info), ""
}

func (s *Scanner) sendError(err error) {
	if s.opts.ErrCh != nil {
		s.opts.ErrCh <- err
	}
}

// shouldExclude checks if a path's basename matches any exclude pattern.
func (s *Scanner) shouldExclude(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range s.opts.Excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
