// Package types provides shared types used across the patiencebar commands.
package types

import (
	"cmp"
	"encoding/hex"
	"slices"
	"time"
)

// FileInfo holds metadata for a discovered file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Dev     uint64
	Ino     uint64
}

// Sorted is an ordered collection that maintains sort order by a key function.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time; the sort is stable.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// Shard returns the i-th of n interleaved slices of the items: every n-th
// item starting at i. Shards of one collection are disjoint and cover it.
func (s Sorted[T, K]) Shard(i, n int) []T {
	if n <= 0 || i < 0 || i >= n {
		return nil
	}
	var out []T
	for j := i; j < len(s.items); j += n {
		out = append(out, s.items[j])
	}
	return out
}

// Files is a path-ordered set of discovered files.
type Files = Sorted[*FileInfo, string]

// NewFiles sorts files by path.
func NewFiles(files []*FileInfo) Files {
	return NewSorted(files, func(f *FileInfo) string { return f.Path })
}

// Digest is the content hash of one file.
type Digest struct {
	Path   string
	Size   int64
	Sum    []byte
	Cached bool // served from the hash cache
}

// Hex returns the hash in lowercase hex.
func (d Digest) Hex() string { return hex.EncodeToString(d.Sum) }

// Digests is a path-ordered collection of digests.
type Digests = Sorted[Digest, string]

// NewDigests sorts digests by path.
func NewDigests(digests []Digest) Digests {
	return NewSorted(digests, func(d Digest) string { return d.Path })
}

// Semaphore implements a counting semaphore using a buffered channel.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
