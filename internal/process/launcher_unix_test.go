//go:build !windows

package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/runvisor/internal/fakeruntime"
)

func selfSpec(t *testing.T, mode string, extra ...string) (LaunchSpec, string) {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	report := filepath.Join(t.TempDir(), "report.json")
	env := fakeruntime.Env(mode, append(extra, fakeruntime.EnvReport+"="+report)...)
	return LaunchSpec{Path: exe, Env: env, Output: filepath.Join(t.TempDir(), "stdout.log")}, report
}

func readReport(t *testing.T, path string) fakeruntime.Report {
	t.Helper()
	var rep fakeruntime.Report
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(path)
		if err == nil && json.Unmarshal(b, &rep) == nil {
			return rep
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("fake runtime never wrote %s", path)
	return rep
}

func TestHelperLaunchDetachesAndTerminates(t *testing.T) {
	spec, report := selfSpec(t, fakeruntime.ModeSleep)
	pidfile := filepath.Join(t.TempDir(), "runtime.pid")
	r := NewRunner(Options{
		Spec:         spec,
		PIDFile:      pidfile,
		StartTimeout: 10 * time.Second,
		Pinger:       pingFunc(func() bool { return true }),
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := r.PID()
	if pid <= 0 || pid == os.Getpid() {
		t.Fatalf("unexpected pid %d", pid)
	}
	got, err := ReadPIDFile(pidfile)
	if err != nil || got != pid {
		t.Fatalf("pidfile = %d, %v; want %d", got, err, pid)
	}
	rep := readReport(t, report)
	if rep.PID != pid {
		t.Fatalf("report pid %d, runner pid %d", rep.PID, pid)
	}
	if rep.Cwd != "/" {
		t.Fatalf("runtime cwd = %q, want /", rep.Cwd)
	}
	if !r.CheckPID() {
		t.Fatal("runtime should be alive")
	}

	if !r.Terminate(10 * time.Second) {
		t.Fatal("Terminate did not confirm exit")
	}
	if r.CheckPID() {
		t.Fatal("runtime still alive after terminate")
	}
	if _, err := os.Stat(pidfile); !os.IsNotExist(err) {
		t.Fatal("pidfile not removed")
	}
}

func TestHelperLaunchExitBeforeReady(t *testing.T) {
	spec, _ := selfSpec(t, fakeruntime.ModeExit)
	r := NewRunner(Options{
		Spec:         spec,
		PIDFile:      filepath.Join(t.TempDir(), "runtime.pid"),
		StartTimeout: 20 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Pinger:       pingFunc(func() bool { return false }),
	})
	err := r.Start(context.Background())
	if !errors.Is(err, ErrExitedBeforeReady) {
		t.Fatalf("Start error = %v", err)
	}
}

func TestStubbornRuntimeNeedsKill(t *testing.T) {
	spec, report := selfSpec(t, fakeruntime.ModeStubborn)
	r := NewRunner(Options{
		Spec:    spec,
		PIDFile: filepath.Join(t.TempDir(), "runtime.pid"),
		Pinger:  pingFunc(func() bool { return true }),
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// the report is written after SIGTERM is ignored
	readReport(t, report)

	if r.Stop(200 * time.Millisecond) {
		t.Fatal("Stop must not confirm a runtime nobody asked to exit")
	}
	if r.Terminate(500 * time.Millisecond) {
		t.Fatal("stubborn runtime exited on SIGTERM")
	}
	if !r.Kill(10 * time.Second) {
		t.Fatal("Kill did not confirm exit")
	}
}

func TestHelperLaunchMissingExecutable(t *testing.T) {
	l := DefaultLauncher(nil)
	_, err := l.Launch(LaunchSpec{Path: "/nonexistent/bin/java"})
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Launch error = %v", err)
	}
	if le.Path != "/nonexistent/bin/java" {
		t.Fatalf("LaunchError.Path = %q", le.Path)
	}
}

func TestRunHelperRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	if code := runHelper(strings.NewReader("not json"), &out); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out.String(), "decode launch spec") {
		t.Fatalf("helper output = %q", out.String())
	}
	out.Reset()
	if code := runHelper(strings.NewReader(`{"args":["x"]}`), &out); code != 2 {
		t.Fatalf("exit code for empty path = %d", code)
	}
}
