package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := Acquire(tempDir, "sqlite")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, LockFileName)
	if lock.Path() != lockPath {
		t.Errorf("expected lock path %s, got %s", lockPath, lock.Path())
	}
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	info := parseInfo(string(content))
	if info.PID != os.Getpid() || info.Owner != "sqlite" {
		t.Errorf("unexpected lock info %+v from %q", info, content)
	}
	if time.Since(info.Started) > time.Minute {
		t.Errorf("unexpected start time %v", info.Started)
	}
}

func TestLockConflict(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := Acquire(tempDir, "sqlite")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := Acquire(tempDir, "sqlite")
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if !errors.Is(err, syscall.EWOULDBLOCK) {
		t.Errorf("expected EWOULDBLOCK cause, got %v", lockErr.Cause)
	}
	errMsg := err.Error()
	for _, want := range []string{"another PromptCoach instance", tempDir, "(running)", "owner sqlite"} {
		if !strings.Contains(errMsg, want) {
			t.Errorf("error message should contain %q: %s", want, errMsg)
		}
	}

	// the holder's details survive the failed attempt
	content, _ := os.ReadFile(lock1.Path())
	if parseInfo(string(content)).PID != os.Getpid() {
		t.Errorf("lock file was clobbered: %q", content)
	}
}

func TestLockRelease(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := Acquire(tempDir, "sqlite")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	lockPath := lock.Path()

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	lock2, err := Acquire(tempDir, "sqlite")
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestParseInfo(t *testing.T) {
	started := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{"full", Info{PID: 42, Started: started, Owner: "sqlite"}.encode(), Info{PID: 42, Started: started, Owner: "sqlite"}},
		{"pid only", "pid=12345\n", Info{PID: 12345}},
		{"unknown keys", "pid=7\nhost=box\n", Info{PID: 7}},
		{"empty content", "", Info{}},
		{"invalid pid", "pid=abc", Info{}},
		{"no equals", "pid12345", Info{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseInfo(tt.content)
			if got.PID != tt.want.PID || got.Owner != tt.want.Owner || !got.Started.Equal(tt.want.Started) {
				t.Errorf("parseInfo(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestDescribeHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)

	if got := describeHolder(path); got != "unable to read lock file information" {
		t.Errorf("missing file: %q", got)
	}
	os.WriteFile(path, []byte("garbage"), 0o644)
	if got := describeHolder(path); got != "lock file contains no process information" {
		t.Errorf("garbage file: %q", got)
	}
	os.WriteFile(path, []byte("pid=999999\n"), 0o644)
	if got := describeHolder(path); !strings.HasPrefix(got, "PID 999999") {
		t.Errorf("stale pid: %q", got)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")

	lock, err := Acquire(dir, "sqlite")
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}
