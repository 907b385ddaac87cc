//go:build unix

package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/ivoronin/patiencebar/internal/types"
)

// =============================================================================
// Section 1: Glob Patterns
// =============================================================================

// TestInvalidGlobPatternUnclosedBracket tests that an invalid pattern passed
// directly to the scanner excludes nothing. The CLI validates patterns first.
func TestInvalidGlobPatternUnclosedBracket(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)
	createFile(t, filepath.Join(root, "[bracket.txt"), 100)

	files := scan(t, Options{Paths: []string{root}, Excludes: []string{"[invalid"}})

	if files.Len() != 2 {
		t.Errorf("expected 2 files (invalid pattern skipped), got %d", files.Len())
	}
}

// TestGlobPatternExclusion tests that glob patterns correctly exclude files.
func TestGlobPatternExclusion(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "keep.txt"), 100)
	createFile(t, filepath.Join(root, "exclude.tmp"), 100)
	createFile(t, filepath.Join(root, "exclude.bak"), 100)

	files := scan(t, Options{Paths: []string{root}, Excludes: []string{"*.tmp", "*.bak"}})

	if files.Len() != 1 || filepath.Base(files.First().Path) != "keep.txt" {
		t.Errorf("expected only keep.txt, got %v", paths(files))
	}
}

// TestDirectoryExclusionGit tests that excluding .git skips the whole tree.
func TestDirectoryExclusionGit(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "main.go"), 100)
	createFile(t, filepath.Join(root, ".git", "config"), 50)
	createFile(t, filepath.Join(root, ".git", "objects", "pack"), 200)

	files := scan(t, Options{Paths: []string{root}, Excludes: []string{".git"}})

	if files.Len() != 1 || filepath.Base(files.First().Path) != "main.go" {
		t.Errorf("expected only main.go, got %v", paths(files))
	}
}

// TestGlobPatternMatchesBasenameOnly tests that a pattern excludes both
// directories and files by basename.
func TestGlobPatternMatchesBasenameOnly(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "keepdir", "keep.txt"), 100)
	createFile(t, filepath.Join(root, "keepdir", "skipme"), 100)
	createFile(t, filepath.Join(root, "skipme", "hidden.txt"), 100)

	files := scan(t, Options{Paths: []string{root}, Excludes: []string{"skipme"}})

	if files.Len() != 1 || filepath.Base(files.First().Path) != "keep.txt" {
		t.Errorf("expected only keep.txt, got %v", paths(files))
	}
}

// =============================================================================
// Section 2: Core Scanner Tests
// =============================================================================

// TestScanSortedByPath tests recursive discovery and path ordering.
func TestScanSortedByPath(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "b.txt"), 200)
	createFile(t, filepath.Join(root, "a.txt"), 100)
	createFile(t, filepath.Join(root, "subdir", "c.txt"), 300)

	files := scan(t, Options{Paths: []string{root}, Workers: 2})

	want := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "subdir", "c.txt"),
	}
	got := paths(files)
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if files.Items()[2].Size != 300 {
		t.Errorf("c.txt size = %d, want 300", files.Items()[2].Size)
	}
	if files.First().Ino == 0 {
		t.Error("expected inode to be recorded")
	}
}

// TestSizeFiltering tests the minimum size filter at its boundaries.
func TestSizeFiltering(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "empty.txt"), 0)
	createFile(t, filepath.Join(root, "size99.txt"), 99)
	createFile(t, filepath.Join(root, "size100.txt"), 100)
	createFile(t, filepath.Join(root, "size101.txt"), 101)

	tests := []struct {
		minSize int64
		want    int
	}{
		{0, 4},
		{1, 3},
		{100, 2},
		{102, 0},
	}
	for _, tt := range tests {
		files := scan(t, Options{Paths: []string{root}, MinSize: tt.minSize})
		if files.Len() != tt.want {
			t.Errorf("minSize=%d: expected %d files, got %d", tt.minSize, tt.want, files.Len())
		}
	}
}

// TestOverlappingPaths tests that a file reachable from two roots is
// returned once.
func TestOverlappingPaths(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "subdir")
	createFile(t, filepath.Join(root, "file1.txt"), 100)
	createFile(t, filepath.Join(subdir, "file2.txt"), 100)

	files := scan(t, Options{Paths: []string{root, subdir, root}})

	if files.Len() != 2 {
		t.Errorf("expected 2 unique files, got %v", paths(files))
	}
}

// TestNonRegularFilesSkipped tests that symlinks and FIFOs are skipped.
func TestNonRegularFilesSkipped(t *testing.T) {
	root := t.TempDir()
	regularFile := filepath.Join(root, "regular.txt")
	createFile(t, regularFile, 100)

	if err := os.Symlink(regularFile, filepath.Join(root, "symlink.txt")); err != nil {
		t.Fatal(err)
	}
	if err := syscall.Mkfifo(filepath.Join(root, "fifo"), 0o644); err != nil {
		t.Logf("Skipping FIFO: %v", err)
	}

	files := scan(t, Options{Paths: []string{root}})

	if files.Len() != 1 || filepath.Base(files.First().Path) != "regular.txt" {
		t.Errorf("expected only regular.txt, got %v", paths(files))
	}
}

// TestFilenamesWithSpecialChars tests files with special characters in names.
func TestFilenamesWithSpecialChars(t *testing.T) {
	root := t.TempDir()
	specialNames := []string{
		"file with spaces.txt",
		"file\twith\ttabs.txt",
		"unicode_日本語.txt",
		"quotes'and\"double.txt",
	}
	for _, name := range specialNames {
		createFile(t, filepath.Join(root, name), 100)
	}

	files := scan(t, Options{Paths: []string{root}})

	if files.Len() != len(specialNames) {
		t.Errorf("expected %d files, got %d", len(specialNames), files.Len())
	}
}

// =============================================================================
// Section 3: Errors and Cancellation
// =============================================================================

// TestPermissionErrorHandling tests that scanning continues past unreadable
// directories and reports them.
func TestPermissionErrorHandling(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping permission test when running as root")
	}

	root := t.TempDir()
	createFile(t, filepath.Join(root, "accessible.txt"), 100)
	unreadable := filepath.Join(root, "unreadable")
	if err := os.Mkdir(unreadable, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(unreadable, 0o755) }()

	errCh := make(chan error, 10)
	files := scan(t, Options{Paths: []string{root}, ErrCh: errCh})
	close(errCh)

	if files.Len() != 1 {
		t.Errorf("expected 1 file, got %d", files.Len())
	}
	if countErrors(errCh) == 0 {
		t.Error("expected permission error to be reported")
	}
}

// TestInvalidRoots tests that a file root and a missing root each report an
// error and yield nothing.
func TestInvalidRoots(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "file.txt")
	createFile(t, filePath, 100)

	errCh := make(chan error, 10)
	files := scan(t, Options{Paths: []string{filePath, filepath.Join(root, "missing")}, ErrCh: errCh})
	close(errCh)

	if files.Len() != 0 {
		t.Errorf("expected 0 files, got %d", files.Len())
	}
	if n := countErrors(errCh); n != 2 {
		t.Errorf("expected 2 errors, got %d", n)
	}
}

// TestCanceledContext tests that a canceled scan reports the cancellation.
func TestCanceledContext(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files, err := New(Options{Paths: []string{root}}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if files.Len() != 0 {
		t.Errorf("expected no files from a canceled scan, got %d", files.Len())
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func scan(t *testing.T, opts Options) types.Files {
	t.Helper()
	files, err := New(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return files
}

func paths(files types.Files) []string {
	var out []string
	for _, f := range files.Items() {
		out = append(out, f.Path)
	}
	return out
}

func countErrors(errCh <-chan error) int {
	var n int
	for range errCh {
		n++
	}
	return n
}

func createFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}
