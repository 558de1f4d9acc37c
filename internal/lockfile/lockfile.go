// Package lockfile guards a PromptCoach state directory against concurrent use.
//
// SQLite tolerates only one writer process, so the server takes an flock on a file in the
// state directory before opening the database. The kernel drops the lock when the process
// exits, so a crashed instance never blocks a restart.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "promptcoach.lock"

// Info describes the process holding a lock, as written to the lock file.
type Info struct {
	PID     int
	Started time.Time
	Owner   string
}

func (i Info) encode() string {
	return fmt.Sprintf("pid=%d\nstarted=%s\nowner=%s\n", i.PID, i.Started.UTC().Format(time.RFC3339), i.Owner)
}

// parseInfo reads key=value lines from lock file content. Unknown keys are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "started":
			info.Started, _ = time.Parse(time.RFC3339, value)
		case "owner":
			info.Owner = value
		}
	}
	return info
}

// Lock represents an acquired state directory lock.
type Lock struct {
	file *os.File
	path string
	info Info
}

// Acquire takes an exclusive lock on stateDir, creating the directory when needed. owner
// names what is guarding the directory, e.g. the store backend, and is recorded for the
// error shown to a second instance.
func Acquire(stateDir, owner string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lock.Acquire: acquiring state directory lock", "lockPath", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Holder: describeHolder(lockPath), Cause: err}
		slog.Error("Lock.Acquire: state directory is locked by another instance", "lockPath", lockPath, "holder", lockErr.Holder)
		return nil, lockErr
	}

	// only truncate once the lock is ours, so a running holder's details stay readable
	info := Info{PID: os.Getpid(), Started: time.Now(), Owner: owner}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lock.Acquire: acquired state directory lock", "lockPath", lockPath, "pid", info.PID, "owner", owner)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lock.Acquire: failed to sync lock file", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Info returns the details recorded for this lock.
func (l *Lock) Info() Info { return l.info }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// remove while still holding the lock so a waiting instance never sees our file
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lockPath", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to release flock", "error", err, "lockPath", l.path)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	slog.Info("Lock.Release: released state directory lock", "lockPath", l.path)
	return nil
}

// LockError is returned when another process already holds the lock.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another PromptCoach instance is using this state directory (lock file %s)", e.LockPath)
	if e.Holder != "" {
		msg += ": " + e.Holder
	}
	return msg + "; remove the lock file only if no other instance is running"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the lock file of the current holder for error messages.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	info := parseInfo(string(data))
	if info.PID <= 0 {
		return "lock file contains no process information"
	}
	state := "not running, stale lock"
	if isProcessRunning(info.PID) {
		state = "running"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.Owner != "" {
		desc += ", owner " + info.Owner
	}
	if !info.Started.IsZero() {
		desc += ", started " + info.Started.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning sends signal 0, which checks for existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
