// Package artifacts is the content-addressed blob store behind share bundles.
// Blob ids are the lower-case hex SHA-256 of the stored bytes.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// MaxBlobSize bounds a single stored blob.
const MaxBlobSize = 10 * 1024 * 1024

var (
	ErrNotFound  = errors.New("artifacts: blob not found")
	ErrInvalidID = errors.New("artifacts: invalid blob id")
	ErrTooLarge  = errors.New("artifacts: blob exceeds size limit")
)

// Store defines the contract for content-addressed blob storage.
type Store interface {
	// Store persists data and returns its id. Storing the same bytes twice
	// returns the same id.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by id, or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// BlobID returns the id data is stored under.
func BlobID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateID checks that id has the shape of a blob id.
func ValidateID(id string) error {
	if len(id) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

func checkSize(data []byte) error {
	if len(data) > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for shared blob directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".blob")
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Compute id
	id := BlobID(data)
	path := s.path(id)

	// 2. Idempotent
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	// 3. Write to temp, then rename
	tmp := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for readable blob files
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return id, nil
}

func (s *FileStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(id)) //nolint:gosec // id validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck // best-effort close

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
