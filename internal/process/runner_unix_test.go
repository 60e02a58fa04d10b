//go:build !windows

package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// startSleeper runs a process the runner never launched.
func startSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-done
	})
	pid := cmd.Process.Pid
	deadline := time.Now().Add(2 * time.Second)
	for startTime(pid).IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if startTime(pid).IsZero() {
		t.Skip("process start time unavailable on this platform")
	}
	return pid
}

func TestRunnerIgnoresReusedPID(t *testing.T) {
	pid := startSleeper(t)
	path := filepath.Join(t.TempDir(), "runtime.pid")
	// the recorded runtime started an hour before the process now holding its pid
	if err := WritePIDFile(path, pid, startTime(pid).Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(Options{PIDFile: path, Launcher: LauncherFunc(nil)})
	if r.PID() != 0 {
		t.Fatalf("PID = %d, want 0 for a reused pid", r.PID())
	}
	if r.CheckPID() {
		t.Fatal("reused pid reported as the runtime")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("stale pidfile not removed: %v", err)
	}
	if !r.Terminate(time.Second) || !r.Kill(time.Second) {
		t.Fatal("Terminate/Kill without a runtime must report gone")
	}
	time.Sleep(100 * time.Millisecond)
	if !alive(pid) {
		t.Fatal("unrelated process was signalled")
	}
}

func TestRunnerAdoptsMatchingStartTime(t *testing.T) {
	pid := startSleeper(t)
	path := filepath.Join(t.TempDir(), "runtime.pid")
	if err := WritePIDFile(path, pid, startTime(pid)); err != nil {
		t.Fatal(err)
	}
	r := NewRunner(Options{PIDFile: path, Launcher: LauncherFunc(nil)})
	if r.PID() != pid || !r.CheckPID() {
		t.Fatalf("PID = %d CheckPID = %v, want adopted %d", r.PID(), r.CheckPID(), pid)
	}
	if !r.Terminate(5 * time.Second) {
		t.Fatal("adopted runtime did not stop on terminate")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pidfile not removed: %v", err)
	}
}

func TestRunnerStopsTrackingReusedPID(t *testing.T) {
	pid := startSleeper(t)
	path := filepath.Join(t.TempDir(), "runtime.pid")
	if err := WritePIDFile(path, pid, time.Time{}); err != nil {
		t.Fatal(err)
	}
	r := NewRunner(Options{PIDFile: path, Launcher: LauncherFunc(nil)})
	if r.PID() != pid {
		t.Fatalf("PID = %d, want %d", r.PID(), pid)
	}
	// the adopted runtime exits and the OS hands its pid to another process
	r.mu.Lock()
	r.ident = startTime(pid).Add(-time.Hour)
	r.mu.Unlock()

	if r.CheckPID() {
		t.Fatal("reused pid reported alive")
	}
	if !r.Terminate(time.Second) {
		t.Fatal("Terminate must treat the reused pid as gone")
	}
	time.Sleep(100 * time.Millisecond)
	if !alive(pid) {
		t.Fatal("unrelated process was signalled")
	}
	if r.PID() != 0 {
		t.Fatalf("PID = %d after the runtime is gone", r.PID())
	}
}
