//go:build unix

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/cache"
	"github.com/ivoronin/patiencebar/internal/config"
	"github.com/ivoronin/patiencebar/internal/scanner"
	"github.com/ivoronin/patiencebar/internal/terminal"
	"github.com/ivoronin/patiencebar/internal/testfs"
	"github.com/ivoronin/patiencebar/internal/types"
)

// workerTree has names that only survive the trip to a worker process
// when passed byte for byte.
var workerTree = testfs.FileTree{
	Files: []testfs.File{
		{Path: "plain.txt", Chunks: []testfs.Chunk{{Pattern: 'P', Size: "3KiB"}}},
		{Path: " leading.txt", Chunks: []testfs.Chunk{{Pattern: 'L', Size: "100"}}},
		{Path: "trailing.txt ", Chunks: []testfs.Chunk{{Pattern: 'T', Size: "200"}}},
		{Path: "two\nlines", Chunks: []testfs.Chunk{{Pattern: 'N', Size: "300"}}},
		{Path: "sub/big.bin", Chunks: []testfs.Chunk{{Pattern: 'B', Size: "150KiB"}}},
		{Path: "sub/empty", Chunks: nil},
		{Path: "sub/x.bin", Chunks: []testfs.Chunk{{Pattern: 'X', Size: "1"}}},
	},
}

func newWorkerBar(t *testing.T, total int, out *bytes.Buffer) *bar.Serialized {
	t.Helper()

	sb := bar.NewSerialized(
		bar.WithMax(float64(total)),
		bar.WithWidth(20),
		bar.WithOutput(out),
		bar.WithTerminal(terminal.Size{Rows: 25, Cols: 80}),
		bar.WithYield(0),
	)
	t.Cleanup(sb.Stop)
	return sb
}

func scanFiles(t *testing.T, root string) types.Files {
	t.Helper()

	files, err := scanner.New(scanner.Options{Paths: []string{root}, Workers: 2}).Run(testCtx(t))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return files
}

func hexDigests(d types.Digests) map[string]string {
	got := make(map[string]string, d.Len())
	for _, dg := range d.Items() {
		got[dg.Path] = dg.Hex()
	}
	return got
}

// =============================================================================
// Section 4: Worker processes
// =============================================================================

// TestHashInWorkerProcesses shards files over three child processes whose
// steps reach one serialized bar through their relay pipes.
func TestHashInWorkerProcesses(t *testing.T) {
	t.Setenv(workerEnv, "1")

	root := testfs.LocalTree(t, workerTree)
	files := scanFiles(t, root)
	if files.Len() != len(workerTree.Files) {
		t.Fatalf("scanned %d files, want %d", files.Len(), len(workerTree.Files))
	}

	a := newTestApp(t, config.BarConfig{Max: 100, Enabled: true})
	noCache, _ := cache.Open("", nil)

	var out bytes.Buffer
	sb := newWorkerBar(t, files.Len(), &out)

	digests, summary, err := hashInWorkers(testCtx(t), a, files, noCache, sb, 3)
	if err != nil {
		t.Fatalf("hashInWorkers: %v", err)
	}
	if err := sb.Wait(testCtx(t)); err != nil {
		t.Fatalf("bar did not finish: %v", err)
	}

	want := testfs.ExpectedDigests(t, root, workerTree)
	got := hexDigests(digests)
	if len(got) != len(want) {
		t.Errorf("got %d digests, want %d", len(got), len(want))
	}
	for path, sum := range want {
		if got[path] != sum {
			t.Errorf("%q: got %q, want %q", path, got[path], sum)
		}
	}

	if sb.Running() || sb.Value() != float64(files.Len()) {
		t.Errorf("bar running=%v value=%v, want finished at %d", sb.Running(), sb.Value(), files.Len())
	}
	if n := strings.Count(out.String(), "100 %"); n != 1 {
		t.Errorf("final frame rendered %d times: %q", n, out.String())
	}
	if !strings.Contains(summary.String(), "in 3 processes") {
		t.Errorf("summary = %q", summary)
	}
}

// TestHashInWorkerProcessesUsesCache checks the parent stores what workers
// hashed, so the next run needs no worker at all.
func TestHashInWorkerProcessesUsesCache(t *testing.T) {
	t.Setenv(workerEnv, "1")

	root := testfs.LocalTree(t, workerTree)
	files := scanFiles(t, root)
	a := newTestApp(t, config.BarConfig{Max: 100, Enabled: true})
	cachePath := filepath.Join(t.TempDir(), "hashes.db")

	hashOnce := func() types.Digests {
		c, err := cache.Open(cachePath, nil)
		if err != nil {
			t.Fatal(err)
		}
		var out bytes.Buffer
		sb := newWorkerBar(t, files.Len(), &out)
		digests, _, err := hashInWorkers(testCtx(t), a, files, c, sb, 2)
		if err != nil {
			t.Fatalf("hashInWorkers: %v", err)
		}
		if err := sb.Wait(testCtx(t)); err != nil {
			t.Fatalf("bar did not finish: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
		return digests
	}

	first := hashOnce()
	second := hashOnce()

	if second.Len() != files.Len() {
		t.Fatalf("second run: %d digests, want %d", second.Len(), files.Len())
	}
	firstHex := hexDigests(first)
	for _, d := range second.Items() {
		if !d.Cached {
			t.Errorf("%q not served from cache", d.Path)
		}
		if firstHex[d.Path] != d.Hex() {
			t.Errorf("%q: cached %s, hashed %s", d.Path, d.Hex(), firstHex[d.Path])
		}
	}
}

// TestDemoInWorkerProcesses runs the text demo with child producers.
func TestDemoInWorkerProcesses(t *testing.T) {
	t.Setenv(workerEnv, "1")

	a := newTestApp(t, config.BarConfig{Max: 100, Enabled: true})

	var out bytes.Buffer
	sb := newWorkerBar(t, 6, &out)
	sb.Reset(bar.WithBar(false))

	jobs := make([]demoJob, 6)
	for i := range jobs {
		jobs[i] = demoJob{index: i, value: float64(i) / 4}
	}

	squares, err := demoInWorkers(testCtx(t), a, sb, jobs, &demoOptions{producers: 3}, true)
	if err != nil {
		t.Fatalf("demoInWorkers: %v", err)
	}
	if err := sb.Wait(testCtx(t)); err != nil {
		t.Fatalf("bar did not finish: %v", err)
	}

	for _, j := range jobs {
		if squares[j.index] != j.value*j.value {
			t.Errorf("square of %v = %v", j.value, squares[j.index])
		}
	}
	if n := strings.Count(out.String(), "Just got "); n != len(jobs) {
		t.Errorf("got %d text lines, want %d: %q", n, len(jobs), out.String())
	}
}
