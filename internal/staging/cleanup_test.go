package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("scratch"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestCleanStaleRemovesOldFilesOnly(t *testing.T) {
	dir := t.TempDir()
	stale := writeFile(t, dir, "norm-old.wav", 2*time.Hour)
	fresh := writeFile(t, dir, "norm-new.wav", time.Minute)

	result := CleanStale(dir, time.Hour, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != stale {
		t.Fatalf("expected only stale file removed, got %v", result.Removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file must survive: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale file must be gone")
	}
}

func TestCleanStaleSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "keep")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(sub, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := CleanStale(dir, time.Hour, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("directories must not be removed, got %v", result.Removed)
	}
	if _, err := os.Stat(sub); err != nil {
		t.Fatalf("subdirectory must survive: %v", err)
	}
}

func TestCleanStaleMissingDirIsQuiet(t *testing.T) {
	result := CleanStale(filepath.Join(t.TempDir(), "nope"), time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestCleanStaleEmptyPathIsNoop(t *testing.T) {
	result := CleanStale("   ", time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.wav", 0)
	writeFile(t, dir, "b.wav", 0)

	size, err := Usage(dir)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if size != int64(2*len("scratch")) {
		t.Fatalf("expected %d bytes, got %d", 2*len("scratch"), size)
	}

	if size, err := Usage(filepath.Join(dir, "missing")); err != nil || size != 0 {
		t.Fatalf("expected 0 for missing dir, got %d err %v", size, err)
	}
}
