// Package lockfile guards the state directory against concurrent GuestPipe
// instances. Two processes sharing the same SQLite files and WhatsApp device
// store would corrupt both, so startup takes an exclusive flock on a marker
// file and holds it for the lifetime of the process. The kernel drops the
// lock automatically if the process dies, which keeps crashes from wedging
// the directory.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory while an instance runs.
const LockFileName = "guestpipe.lock"

// Lock is a held state-directory lock. Release it during shutdown; it is also
// released by the kernel when the process exits.
type Lock struct {
	file *os.File
	path string
	held bool
}

// AcquireLock takes an exclusive non-blocking lock on stateDir, creating the
// directory if needed. When another live process holds the lock, the returned
// error is a *HeldError describing the owner.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock: locking state directory", "lock_path", lockPath)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		held := describeHolder(lockPath)
		slog.Error("AcquireLock: state directory already locked", "lock_path", lockPath, "holder", held)
		return nil, &HeldError{LockPath: lockPath, Holder: held, Cause: err}
	}

	if err := writeOwnerInfo(file); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to record lock owner in %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, held: true}, nil
}

// writeOwnerInfo records who holds the lock so a conflicting start can report
// something more useful than "resource temporarily unavailable".
func writeOwnerInfo(file *os.File) error {
	host, _ := os.Hostname()
	info := fmt.Sprintf("pid=%d\nhost=%s\nstarted=%s\n",
		os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(info); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("writeOwnerInfo: sync failed", "error", err)
	}
	return nil
}

// Release drops the lock and removes the marker file. Safe to call more than
// once.
func (l *Lock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Release: flock unlock failed", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Release: close failed", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		// Not fatal, the flock itself is already gone.
		slog.Warn("Release: could not remove lock file", "error", err, "lock_path", l.path)
	}
	l.held = false
	l.file = nil
	slog.Info("Release: state directory lock released", "lock_path", l.path)
	return nil
}

// HeldError reports that another instance owns the state directory.
type HeldError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("state directory is locked by another GuestPipe instance (lock file %s", e.LockPath)
	if e.Holder != "" {
		msg += ", held by " + e.Holder
	}
	msg += "). If no other instance is running the lock is stale and can be removed with: rm " + e.LockPath
	return msg
}

func (e *HeldError) Unwrap() error {
	return e.Cause
}

// describeHolder reads the owner info written by the locking process and
// checks whether that process is still alive.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parseOwnerPID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("PID %d (running)", pid)
	}
	return fmt.Sprintf("PID %d (not running, stale lock)", pid)
}

// parseOwnerPID extracts the pid= value from the owner info block.
func parseOwnerPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(value)
		if err != nil {
			return 0
		}
		return pid
	}
	return 0
}

// processAlive probes a PID with signal 0, which checks for existence without
// delivering anything.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
