package testfs

import (
	"path/filepath"
	"testing"
)

// LocalTree sows tree into a fresh t.TempDir() and returns its root.
func LocalTree(t *testing.T, tree FileTree) string {
	t.Helper()

	root := t.TempDir()
	if err := Sow(root, tree); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}
	return root
}

// ExpectedDigests maps every file of tree, joined onto root, to its hex
// SHA-256. Symlinks are not included.
func ExpectedDigests(t *testing.T, root string, tree FileTree) map[string]string {
	t.Helper()

	want := make(map[string]string, len(tree.Files))
	for _, f := range tree.Files {
		sum, err := f.Digest()
		if err != nil {
			t.Fatalf("digest: %v", err)
		}
		want[filepath.Join(root, f.Path)] = sum
	}
	return want
}
