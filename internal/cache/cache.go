// Package cache keeps whole-file SHA-256 digests between runs of the hash
// command.
package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/types"
)

const (
	bucketName = "digests"
	hashSize   = 32
	keyVersion = byte(2) // bump when the key layout changes
)

// Cache persists file digests in BoltDB. It is self-cleaning: each run
// writes a fresh database and only entries looked up or stored during the
// run survive. Safe for concurrent use.
type Cache struct {
	readDB  *bolt.DB // previous run, read-only
	writeDB *bolt.DB // this run; BoltDB's file lock keeps other instances out
	path    string
	enabled bool
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Open opens the previous database for reading and creates the next one for
// writing. An empty path returns a disabled cache.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return &Cache{logger: logger}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true, logger: logger}
	var err error

	if _, statErr := os.Stat(path); statErr == nil {
		c.readDB, err = bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
		if err != nil {
			logger.Warn("ignoring unreadable hash cache", zap.String("path", path), zap.Error(err))
			c.readDB = nil
		}
	}

	c.writeDB, err = bolt.Open(path+".new", 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache (locked by another instance?): %w", err)
	}

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return c, nil
}

// Enabled reports whether the cache is backed by a database.
func (c *Cache) Enabled() bool { return c.enabled }

// Close closes both databases and atomically replaces the old one with the
// new. The rename is skipped if the new database failed to close.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close previous cache: %w", err))
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		} else if err := os.Rename(c.path+".new", c.path); err != nil {
			errs = append(errs, fmt.Errorf("replace cache: %w", err))
		}
	}
	if c.enabled {
		c.logger.Debug("hash cache closed", zap.Int64("hits", c.hits.Load()), zap.Int64("misses", c.misses.Load()))
	}
	return errors.Join(errs...)
}

// makeKey builds the lookup key. Any change to path, size, device, inode or
// mtime is a miss.
// Key = ver(1) + path + NUL + size(8) + dev(8) + ino(8) + mtime(8)
func makeKey(fi *types.FileInfo) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(fi.Path)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, fi.Size)
	_ = binary.Write(buf, binary.BigEndian, fi.Dev)
	_ = binary.Write(buf, binary.BigEndian, fi.Ino)
	_ = binary.Write(buf, binary.BigEndian, fi.ModTime.UnixNano())
	return buf.Bytes()
}

// Lookup returns the cached digest of fi, or (nil, nil) on a miss.
// A hit is carried over into the new database.
func (c *Cache) Lookup(fi *types.FileInfo) ([]byte, error) {
	if !c.enabled || c.readDB == nil {
		return nil, nil
	}

	key := makeKey(fi)
	var hash []byte

	err := c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); len(data) == hashSize {
			hash = bytes.Clone(data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	if hash == nil {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)

	if err := c.Store(fi, hash); err != nil {
		c.logger.Debug("carry over cache entry failed", zap.String("path", fi.Path), zap.Error(err))
	}
	return hash, nil
}

// Store records the digest of fi in the new database. Digests that are not
// SHA-256 sized are ignored.
func (c *Cache) Store(fi *types.FileInfo, hash []byte) error {
	if !c.enabled || c.writeDB == nil || len(hash) != hashSize {
		return nil
	}

	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(makeKey(fi), hash)
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Stats returns the hit and miss counts so far.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
