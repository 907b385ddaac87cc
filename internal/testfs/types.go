// Package testfs provides file-tree fixtures for the hash command and a
// Docker harness that runs the binary behind a real TTY.
//
// It supports two modes:
//   - Integration tests: Harness creates files in t.TempDir()
//   - E2E tests (build tag e2e): Harness also starts a container with the
//     tree bind-mounted at /data and runs the binary with a console of a
//     chosen size, so terminal detection and bar layout are exercised
//
// # FileTree Specification
//
//	given := testfs.FileTree{
//	    Files: []testfs.File{
//	        {Path: "a.txt", Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	        {Path: "sub/b.txt", Chunks: []testfs.Chunk{{Pattern: 'B', Size: "10KiB"}}},
//	    },
//	    Symlinks: []testfs.Symlink{{Path: "link.txt", Target: "a.txt"}},
//	}
//
// Subdirectories are created automatically from file paths (mkdir -p
// semantics). Paths are relative to the tree root.
package testfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dustin/go-humanize"
)

// FileTree describes the files to create.
type FileTree struct {
	Files    []File    `json:"files,omitempty"`
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// File defines a regular file whose content is a sequence of filled chunks.
type File struct {
	Path   string  `json:"path"`
	Chunks []Chunk `json:"chunks,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte, e.g. 'A' fills the region with 0x41.
	Pattern rune `json:"pattern"`

	// Size in IEC units (1024-based): "100", "1KiB", "1MiB".
	Size string `json:"size"`
}

// TotalSize calculates the sum of all chunk sizes in bytes.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Digest returns the hex SHA-256 the file will have once sown, computed
// from its chunks without touching disk.
func (f *File) Digest() (string, error) {
	h := sha256.New()
	for _, c := range f.Chunks {
		if err := writeChunk(h, c); err != nil {
			return "", fmt.Errorf("%s: %w", f.Path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Symlink defines a symbolic link. Target is stored as given.
type Symlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// RunResult captures the results of a patiencebar execution.
type RunResult struct {
	ExitCode int    // Process exit code
	Stdout   string // Standard output; with a TTY, all output
	Stderr   string // Standard error; empty with a TTY
}
