package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNetworkFilesystem is returned when the sqlite backend is pointed at a
// network mount, where SQLite's file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("sqlite database on network filesystem")

var networkFilesystems = []string{"afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav"}

// fsTypeFunc names the filesystem holding path. An empty name means the
// platform could not tell, which is treated as local.
type fsTypeFunc func(path string) (string, error)

// requireLocalDisk refuses database paths on network filesystems.
func requireLocalDisk(dbPath string) error {
	return requireLocalDiskWith(dbPath, filesystemType)
}

func requireLocalDiskWith(dbPath string, fsType fsTypeFunc) error {
	if dbPath == "" {
		return errors.New("sqlite path is empty")
	}

	ancestor, err := existingAncestor(dbPath)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", dbPath, err)
	}

	kind, err := fsType(ancestor)
	if err != nil {
		return fmt.Errorf("inspect filesystem of %q: %w", ancestor, err)
	}
	if isNetworkFilesystem(kind) {
		return fmt.Errorf("%w: %s is on %s; point state.dir (or WARELAY_DATA_DIR) at local disk or use state.backend: file",
			ErrNetworkFilesystem, dbPath, kind)
	}
	return nil
}

// existingAncestor returns path itself, or its closest parent that exists.
// The database file and state.dir may not have been created yet.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = parent
	}
}

func isNetworkFilesystem(kind string) bool {
	return slices.Contains(networkFilesystems, strings.ToLower(strings.TrimSpace(kind)))
}
