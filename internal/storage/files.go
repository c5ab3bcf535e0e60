// Package storage holds the document backends behind the relay state store:
// plain JSON files in a data directory, or rows in a SQLite database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a document has never been saved.
var ErrNotFound = errors.New("document not found")

// FileDocuments stores each document as <dir>/<name>.json.
type FileDocuments struct {
	dir string
}

// NewFileDocuments returns a file backend rooted at dir. The directory is
// created on first save.
func NewFileDocuments(dir string) *FileDocuments {
	return &FileDocuments{dir: dir}
}

// Dir returns the data directory.
func (f *FileDocuments) Dir() string {
	return f.dir
}

func (f *FileDocuments) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

// Load reads the document, or returns ErrNotFound.
func (f *FileDocuments) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", name, err)
	}
	return data, nil
}

// Save writes the document atomically via a temp file and rename, so a crash
// mid-write leaves the previous version intact.
func (f *FileDocuments) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, f.path(name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
