package storage

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/pebble"
)

// BlobStore persists uploaded image bytes in a Pebble database keyed
// by storage path. Paths are opaque to the store; the upload path
// convention (including the batch segment) is the caller's concern.
type BlobStore struct {
	db *pebble.DB
}

// Open opens (or creates) the blob database at path.
func Open(path string) (*BlobStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	slog.Info("blob store opened", slog.String("path", path))
	return &BlobStore{db: db}, nil
}

// Put stores the blob under key, replacing any existing value.
func (s *BlobStore) Put(key string, r io.Reader) error {
	if err := validKey(key); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty blob for key %q", key)
	}

	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

// Get returns the blob stored under key, or (nil, false) when absent.
func (s *BlobStore) Get(key string) ([]byte, bool, error) {
	value, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Close closes the underlying database.
func (s *BlobStore) Close() error {
	return s.db.Close()
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
