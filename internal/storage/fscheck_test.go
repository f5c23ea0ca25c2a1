package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestRequireLocalFilesystem(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "not", "yet", "journal.db")

	var inspected string
	local := func(p string) (string, error) { inspected = p; return "ext4", nil }
	if err := requireLocalFilesystem(missing, local); err != nil {
		t.Fatalf("local filesystem rejected: %v", err)
	}
	if inspected != dir {
		t.Errorf("inspected %q, want nearest existing %q", inspected, dir)
	}

	nfs := func(string) (string, error) { return "NFS", nil }
	err := requireLocalFilesystem(missing, nfs)
	if err == nil || !strings.Contains(err.Error(), "network filesystem") {
		t.Fatalf("expected network filesystem error, got %v", err)
	}

	broken := func(string) (string, error) { return "", errors.New("statfs failed") }
	if err := requireLocalFilesystem(missing, broken); err == nil {
		t.Fatal("expected detector error to surface")
	}
}
