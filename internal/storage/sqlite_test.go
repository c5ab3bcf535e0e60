package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "warelay.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "documents").Scan(&name); err != nil {
		t.Fatalf("table documents missing: %v", err)
	}
}

func TestSQLiteDocumentsRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "warelay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	docs := NewSQLiteDocuments(db)

	if _, err := docs.Load(ctx, "webhook-config"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := docs.Save(ctx, "webhook-config", []byte(`{"enabled":true}`)); err != nil {
		t.Fatalf("Save (1): %v", err)
	}
	if err := docs.Save(ctx, "webhook-config", []byte(`{"enabled":false}`)); err != nil {
		t.Fatalf("Save (2): %v", err)
	}

	got, err := docs.Load(ctx, "webhook-config")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"enabled":false}` {
		t.Fatalf("unexpected body: %s", got)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM documents;").Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected upsert to keep 1 row, got %d", rows)
	}
}
