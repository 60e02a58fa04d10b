//go:build !windows

package process

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/loykin/runvisor/internal/logger"
)

// HelperEnv marks a re-executed binary as the intermediate launch hop.
const HelperEnv = "RUNVISOR_LAUNCH_HELPER"

const helperUmask = 0o022

type helperResult struct {
	PID   int    `json:"pid,omitempty"`
	Error string `json:"error,omitempty"`
}

// helperLauncher detaches in two hops: the current binary is re-executed as
// a helper in a new session, the helper starts the runtime and exits at
// once, leaving the runtime orphaned and adopted by init.
type helperLauncher struct {
	self string
	log  *slog.Logger
}

func newPlatformLauncher(log *slog.Logger) Launcher {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	return &helperLauncher{self: self, log: logger.OrDiscard(log)}
}

func (l *helperLauncher) Launch(spec LaunchSpec) (int, error) {
	if err := spec.validate(); err != nil {
		return 0, &LaunchError{Path: spec.Path, Err: err}
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return 0, &LaunchError{Path: spec.Path, Err: err}
	}
	// #nosec G204 -- re-executes our own binary
	cmd := exec.Command(l.self)
	cmd.Env = append(os.Environ(), HelperEnv+"=1")
	cmd.Stdin = bytes.NewReader(payload)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	l.log.Debug("starting launch helper", "helper", l.self, "runtime", spec.String())
	// The helper exits right after starting the runtime, so Run returns fast
	// and reaps the intermediate hop.
	runErr := cmd.Run()
	var res helperResult
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &res); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("launch helper gave no pid: %w", err)
		}
		if s := strings.TrimSpace(errb.String()); s != "" {
			runErr = fmt.Errorf("%w: %s", runErr, s)
		}
		return 0, &LaunchError{Path: spec.Path, Err: runErr}
	}
	if res.Error != "" {
		return 0, &LaunchError{Path: spec.Path, Err: fmt.Errorf("%s", res.Error)}
	}
	if res.PID <= 0 {
		return 0, &LaunchError{Path: spec.Path, Err: fmt.Errorf("launch helper reported pid %d", res.PID)}
	}
	return res.PID, nil
}

// RunLaunchHelperIfRequested turns the current process into the intermediate
// launch hop when HelperEnv is set. It never returns in that case. Call it
// first thing in main (and in TestMain of packages that launch).
func RunLaunchHelperIfRequested() {
	if os.Getenv(HelperEnv) != "1" {
		return
	}
	os.Exit(runHelper(os.Stdin, os.Stdout))
}

func runHelper(in io.Reader, out io.Writer) int {
	reply := func(r helperResult, code int) int {
		_ = json.NewEncoder(out).Encode(r)
		return code
	}
	var spec LaunchSpec
	if err := json.NewDecoder(in).Decode(&spec); err != nil {
		return reply(helperResult{Error: "decode launch spec: " + err.Error()}, 2)
	}
	if err := spec.validate(); err != nil {
		return reply(helperResult{Error: err.Error()}, 2)
	}
	if err := os.Chdir("/"); err != nil {
		return reply(helperResult{Error: "chdir /: " + err.Error()}, 1)
	}
	syscall.Umask(helperUmask)

	output, err := logger.RuntimeOutput(spec.Output)
	if err != nil {
		return reply(helperResult{Error: err.Error()}, 1)
	}
	defer func() { _ = output.Close() }()

	// #nosec G204 -- executable and args come from the resolved configuration
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = "/"
	}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return reply(helperResult{Error: err.Error()}, 1)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return reply(helperResult{PID: pid}, 0)
}
