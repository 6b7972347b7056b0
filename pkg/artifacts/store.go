// Package artifacts provides a hash-addressed archive for sealed replay
// packages. Packages are stored under their package hash, so a stored
// object can always be checked against its own key. Backends cover the
// local filesystem, S3-compatible object stores, and Google Cloud Storage,
// selected by the archive URL scheme.
package artifacts

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Blob is the byte-level storage contract an Archive builds on. Keys are
// 64-hex package hashes; implementations must be idempotent on Put.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

func validateKey(key string) error {
	if len(key) != 64 {
		return fmt.Errorf("invalid archive key %q: want 64 hex chars", key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("invalid archive key hex: %w", err)
	}
	return nil
}

// FileBlob is a filesystem-backed Blob.
type FileBlob struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileBlob creates a filesystem blob store rooted at baseDir.
func NewFileBlob(baseDir string) (*FileBlob, error) {
	//nolint:gosec // G301: 0755 is intentional for shared archive directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileBlob{baseDir: baseDir}, nil
}

// Put writes data under key. Writes go through a temp file and rename so a
// partially written package is never visible, and an existing object with
// the same key is left untouched.
func (s *FileBlob) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, key+".json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write package: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize package: %w", err)
	}
	return nil
}

func (s *FileBlob) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.baseDir, key+".json")
	f, err := os.Open(path) //nolint:gosec // key validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("package not found: %s", key)
		}
		//nolint:wrapcheck // caller provides context
		return nil, err
	}
	defer f.Close() //nolint:errcheck // best-effort close

	//nolint:wrapcheck // caller provides context
	return io.ReadAll(f)
}

func (s *FileBlob) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(filepath.Join(s.baseDir, key+".json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	//nolint:wrapcheck // caller provides context
	return false, err
}

func (s *FileBlob) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.baseDir, key+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	return nil
}
