package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := PathIn(t.TempDir())
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
	if filepath.Base(l.Path()) != FileName {
		t.Fatalf("path = %q", l.Path())
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Parallel()

	path := PathIn(t.TempDir())
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	// flock locks belong to the open file description, so a second open in
	// the same process still conflicts.
	_, err = Acquire(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire err = %v, want ErrLocked", err)
	}

	held, err := Held(path)
	if err != nil {
		t.Fatalf("Held: %v", err)
	}
	if !held {
		t.Fatalf("expected lock to be held")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := PathIn(t.TempDir())
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	held, err := Held(path)
	if err != nil {
		t.Fatalf("Held: %v", err)
	}
	if held {
		t.Fatalf("expected lock to be free after release")
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = again.Release()
}

func TestHeldMissingFile(t *testing.T) {
	t.Parallel()

	held, err := Held(filepath.Join(t.TempDir(), "missing.pid"))
	if err != nil || held {
		t.Fatalf("Held = %v, %v; want false, nil", held, err)
	}
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Acquire(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
