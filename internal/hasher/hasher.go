// Package hasher computes whole-file SHA-256 digests with a fixed worker
// pool, reporting one bar step per finished file.
//
// # Concurrency Model
//
//  1. FEEDER (one goroutine)
//     - Sends files to jobCh, stops early when ctx is done, closes jobCh
//
//  2. WORKERS (fixed pool)
//     - Each takes a file, consults the cache, hashes on a miss, stores the
//     digest, sends it to resultsCh and emits bar.Step()
//     - Failed files still emit a step so the bar reaches its max
//
//  3. COLLECTOR (caller of Run)
//     - Drains resultsCh until the workers exit
//
// Workers never render. The bar they step is expected to be a
// bar.Serialized, a relay.Writer, or anything else safe for concurrent use.
package hasher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/cache"
	"github.com/ivoronin/patiencebar/internal/types"
)

// blockSize is the read buffer size.
const blockSize = 64 * 1024

// Options configures a Hasher.
type Options struct {
	Workers int          // concurrent file reads
	Cache   *cache.Cache // optional
	Bar     bar.Updater  // optional; receives one Step per file
	Logger  *zap.Logger  // optional
	ErrCh   chan<- error // optional; receives per-file errors
}

// stats tracks hashing progress.
type stats struct {
	hashedFiles atomic.Int64
	hashedBytes atomic.Int64
	cachedFiles atomic.Int64
	cachedBytes atomic.Int64
	failedFiles atomic.Int64
	startTime   time.Time
}

func (s *stats) String() string {
	elapsed := time.Since(s.startTime).Truncate(time.Millisecond)
	return fmt.Sprintf("Hashed %d files (%s), %d from cache (%s), %d failed in %v",
		s.hashedFiles.Load(), humanize.IBytes(uint64(s.hashedBytes.Load())),
		s.cachedFiles.Load(), humanize.IBytes(uint64(s.cachedBytes.Load())),
		s.failedFiles.Load(), elapsed)
}

// Hasher digests a list of files. Create with New, call Run once.
type Hasher struct {
	opts  Options
	stats *stats
}

// New creates a Hasher.
func New(opts Options) *Hasher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache, _ = cache.Open("", nil)
	}
	return &Hasher{opts: opts, stats: &stats{}}
}

// Run hashes files and returns their digests sorted by path. Files that
// could not be read are reported on ErrCh and left out. If ctx ends first,
// the digests finished so far are returned with ctx's error.
func (h *Hasher) Run(ctx context.Context, files []*types.FileInfo) (types.Digests, error) {
	h.stats.startTime = time.Now()
	jobCh := make(chan *types.FileInfo)
	resultsCh := make(chan types.Digest, h.opts.Workers)

	go func() {
		defer close(jobCh)
		for _, f := range files {
			select {
			case jobCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	var workerWg sync.WaitGroup
	for range h.opts.Workers {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for f := range jobCh {
				if d, ok := h.process(ctx, f); ok {
					resultsCh <- d
				}
			}
		}()
	}

	go func() {
		workerWg.Wait()
		close(resultsCh)
	}()

	digests := make([]types.Digest, 0, len(files))
	for d := range resultsCh {
		digests = append(digests, d)
	}

	h.opts.Logger.Debug("hashing finished", zap.Stringer("stats", h.stats))
	if err := ctx.Err(); err != nil {
		return types.NewDigests(digests), fmt.Errorf("hashing interrupted: %w", err)
	}
	return types.NewDigests(digests), nil
}

// Summary describes what Run did, for display once it returns.
func (h *Hasher) Summary() fmt.Stringer { return h.stats }

// process digests one file and emits its bar step.
func (h *Hasher) process(ctx context.Context, f *types.FileInfo) (types.Digest, bool) {
	defer h.step()

	cached, err := h.opts.Cache.Lookup(f)
	if err != nil {
		h.opts.Logger.Debug("cache lookup failed", zap.String("path", f.Path), zap.Error(err))
	}
	if cached != nil {
		h.stats.cachedFiles.Add(1)
		h.stats.cachedBytes.Add(f.Size)
		return types.Digest{Path: f.Path, Size: f.Size, Sum: cached, Cached: true}, true
	}

	sum, n, err := HashFile(ctx, f.Path)
	if err != nil {
		h.stats.failedFiles.Add(1)
		if ctx.Err() == nil {
			h.sendError(fmt.Errorf("%s: %w", f.Path, err))
		}
		return types.Digest{}, false
	}
	if err := h.opts.Cache.Store(f, sum); err != nil {
		h.opts.Logger.Warn("cache store failed", zap.String("path", f.Path), zap.Error(err))
	}

	h.stats.hashedFiles.Add(1)
	h.stats.hashedBytes.Add(n)
	return types.Digest{Path: f.Path, Size: f.Size, Sum: sum}, true
}

func (h *Hasher) step() {
	if h.opts.Bar != nil {
		h.opts.Bar.Update(bar.Step())
	}
}

func (h *Hasher) sendError(err error) {
	if h.opts.ErrCh != nil {
		h.opts.ErrCh <- err
	}
}

// HashFile returns the SHA-256 of the file at path and the number of bytes
// read. Reading stops with ctx's error if ctx ends first.
func HashFile(ctx context.Context, path string) (sum []byte, n int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	buf := make([]byte, blockSize)
	n, err = io.CopyBuffer(hasher, &ctxReader{ctx: ctx, r: f}, buf)
	if err != nil {
		return nil, n, err
	}
	return hasher.Sum(nil), n, nil
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
