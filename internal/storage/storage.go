package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore defines the interface for file storage operations. Paths may
// contain slashes; stores must treat them as opaque hierarchical keys.
type ObjectStore interface {
	// Upload saves a file and returns the path it was stored under.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Get retrieves a file by path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes a file.
	Delete(ctx context.Context, path string) error
}

// LocalStore implements ObjectStore on the local filesystem. It backs the
// preview spool so uploads have a viewable copy before any network activity.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a LocalStore rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return filepath.Join(l.basePath, clean), nil
}

// Upload saves a file to local storage, creating parent directories as needed.
func (l *LocalStore) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	full, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Get retrieves a file from local storage.
func (l *LocalStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage.
func (l *LocalStore) Delete(_ context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
