//go:build windows

package process

import (
	"log/slog"
	"os/exec"
	"syscall"

	"github.com/loykin/runvisor/internal/logger"
)

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
	DETACHED_PROCESS         = 0x00000008
)

// HelperEnv is unused on Windows; kept so callers compile unchanged.
const HelperEnv = "RUNVISOR_LAUNCH_HELPER"

type detachedLauncher struct {
	log *slog.Logger
}

func newPlatformLauncher(log *slog.Logger) Launcher {
	return &detachedLauncher{log: logger.OrDiscard(log)}
}

// Launch starts the runtime without a console in its own process group and
// releases the handle, so nothing ties it to the supervisor.
func (l *detachedLauncher) Launch(spec LaunchSpec) (int, error) {
	if err := spec.validate(); err != nil {
		return 0, &LaunchError{Path: spec.Path, Err: err}
	}
	output, err := logger.RuntimeOutput(spec.Output)
	if err != nil {
		return 0, &LaunchError{Path: spec.Path, Err: err}
	}
	defer func() { _ = output.Close() }()

	// #nosec G204 -- executable and args come from the resolved configuration
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: CREATE_NEW_PROCESS_GROUP | DETACHED_PROCESS}
	if err := cmd.Start(); err != nil {
		return 0, &LaunchError{Path: spec.Path, Err: err}
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	l.log.Debug("runtime started detached", "pid", pid)
	return pid, nil
}

// RunLaunchHelperIfRequested is a no-op on Windows.
func RunLaunchHelperIfRequested() {}
