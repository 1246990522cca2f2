package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesOwnerInfo(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if got := parseOwnerPID(string(content)); got != os.Getpid() {
		t.Errorf("Lock file records pid %d, want %d (content %q)", got, os.Getpid(), content)
	}
	if !strings.Contains(string(content), "started=") {
		t.Errorf("Lock file should record a start timestamp, got %q", content)
	}
}

func TestSecondAcquireFailsWithHeldError(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir)
	if err == nil {
		lock2.Release()
		t.Fatal("Second AcquireLock should have failed")
	}

	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("Expected *HeldError, got %T: %v", err, err)
	}
	if !strings.Contains(held.Holder, "running") {
		t.Errorf("Holder should describe the live owner, got %q", held.Holder)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("Error message should contain the lock path: %s", err)
	}
}

func TestReleaseRemovesLockFile(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}

	// Double release must be a no-op.
	if err := lock.Release(); err != nil {
		t.Errorf("Second Release should be a no-op: %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	lock1.Release()

	lock2, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Reacquire after release failed: %v", err)
	}
	defer lock2.Release()
}

func TestAcquireCreatesStateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock should create missing directories: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("State directory was not created: %s", dir)
	}
}

func TestParseOwnerPID(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{"full owner block", "pid=12345\nhost=box\nstarted=2026-01-01T00:00:00Z\n", 12345},
		{"pid only", "pid=67890\n", 67890},
		{"no pid line", "host=box\n", 0},
		{"empty", "", 0},
		{"garbage pid", "pid=abc\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOwnerPID(tt.content); got != tt.expected {
				t.Errorf("parseOwnerPID(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("Our own process should be detected as alive")
	}
	if processAlive(999999999) {
		t.Log("Improbably high PID reported alive (unexpected but tolerated)")
	}
}
