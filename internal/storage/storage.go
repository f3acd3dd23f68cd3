// Package storage holds the two storage surfaces of the engine: a local
// recordings directory for admitted audio and a transient S3 object store
// used by long-running recognition.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// RecordingStore keeps admitted audio clips on the local filesystem until
// their jobs finish (and, with retention configured, a while after).
type RecordingStore struct {
	dir string
}

// NewRecordingStore creates the store, ensuring the directory exists.
func NewRecordingStore(dir string) (*RecordingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &RecordingStore{dir: dir}, nil
}

// Save writes audio data atomically (temp file + rename) and returns the
// absolute path.
func (s *RecordingStore) Save(name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))

	tmp, err := os.CreateTemp(s.dir, ".recording-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return path, nil
}

// Dir returns the recordings directory path.
func (s *RecordingStore) Dir() string { return s.dir }

// Remove deletes a stored recording by path. Missing files are not an error.
func (s *RecordingStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
