package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/satishbabariya/recordkit/internal/debug"
)

// fileEntry is the on-disk envelope of one cached value
type fileEntry struct {
	Key       string `msgpack:"k"`
	Value     any    `msgpack:"v"`
	ExpiresAt int64  `msgpack:"e"` // unix nanoseconds, 0 = never
}

// FileStore is a Store keeping one msgpack file per key under a directory.
// It survives process restarts and can be shared by workers on one host.
type FileStore struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore creates a FileStore rooted at dir on fs
func NewFileStore(fs afero.Fs, dir string, logger *slog.Logger) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{fs: fs, dir: dir, logger: debug.Or(logger), now: time.Now}, nil
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".mpk")
}

// Get retrieves a value; expired or unreadable entries count as misses
func (s *FileStore) Get(key string) (any, bool) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		return nil, false
	}

	var entry fileEntry
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&entry); err != nil {
		s.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		_ = s.fs.Remove(s.path(key))
		return nil, false
	}
	if entry.Key != key {
		return nil, false
	}
	if entry.ExpiresAt != 0 && s.now().UnixNano() > entry.ExpiresAt {
		_ = s.fs.Remove(s.path(key))
		return nil, false
	}
	return entry.Value, true
}

// Set writes a value; it reports false when the entry could not be stored
func (s *FileStore) Set(key string, value any, ttl time.Duration) bool {
	entry := fileEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		s.logger.Warn("cache value not encodable", "key", key, "error", err)
		return false
	}

	// write then rename so readers never see a partial file
	tmp := s.path(key) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
		return false
	}
	if err := s.fs.Rename(tmp, s.path(key)); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
		_ = s.fs.Remove(tmp)
		return false
	}
	return true
}

// Delete removes a key and reports whether it existed
func (s *FileStore) Delete(key string) bool {
	return s.fs.Remove(s.path(key)) == nil
}
