package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileDocumentsMissing(t *testing.T) {
	t.Parallel()

	docs := NewFileDocuments(t.TempDir())
	_, err := docs.Load(context.Background(), "webhook-logs")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileDocumentsSaveCreatesDirAndFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "data")
	docs := NewFileDocuments(dir)
	ctx := context.Background()

	if err := docs.Save(ctx, "webhook-config", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "webhook-config.json"))
	if err != nil {
		t.Fatalf("expected document file: %v", err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("unexpected file contents: %s", raw)
	}

	if err := docs.Save(ctx, "webhook-config", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}
	got, err := docs.Load(ctx, "webhook-config")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Fatalf("unexpected body: %s", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestFileDocumentsSaveHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := NewFileDocuments(t.TempDir())
	if err := docs.Save(ctx, "webhook-config", []byte(`{}`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
