package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/runvisor/internal/logger"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultStartTimeout = 60 * time.Second
	defaultPingTimeout  = 2 * time.Second
	goneInterval        = 100 * time.Millisecond
)

// Pinger is the control-plane liveness probe used while waiting for
// readiness.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) bool
}

// Options configure a Runner.
type Options struct {
	Spec         LaunchSpec
	PIDFile      string
	StartTimeout time.Duration
	PollInterval time.Duration
	PingTimeout  time.Duration
	Launcher     Launcher
	Pinger       Pinger
	Logger       *slog.Logger
}

// Handle identifies the managed process.
type Handle struct {
	PID       int       `json:"pid"`
	PIDFile   string    `json:"pidfile"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Runner owns the runtime's OS process. It never issues control calls
// except the readiness ping, and it never escalates on its own.
type Runner struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	pid       int
	startedAt time.Time
	// ident is the OS start time of pid; zero when it could not be read.
	ident time.Time
}

// NewRunner returns a runner; a pid recorded in the pidfile by a previous
// supervisor is adopted unless it now belongs to another process.
func NewRunner(opts Options) *Runner {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	log := logger.OrDiscard(opts.Logger).With("component", "process")
	if opts.Launcher == nil {
		opts.Launcher = DefaultLauncher(log)
	}
	r := &Runner{opts: opts, log: log}
	if opts.PIDFile != "" {
		if pid := r.adopt(); pid > 0 {
			log.Debug("adopted pid from pidfile", "pid", pid, "pidfile", opts.PIDFile)
		}
	}
	return r
}

// Start launches the runtime, records the pid and waits for readiness. The
// pidfile is written before readiness is known.
func (r *Runner) Start(ctx context.Context) error {
	spec := r.opts.Spec
	r.log.Info("launching runtime", "path", spec.Path, "args", logger.RedactArgs(spec.Args))
	pid, err := r.opts.Launcher.Launch(spec)
	if err != nil {
		r.log.Error("runtime launch failed", "error", err)
		return err
	}
	ident := startTime(pid)
	r.mu.Lock()
	r.pid = pid
	r.ident = ident
	r.startedAt = ident
	if ident.IsZero() {
		r.startedAt = time.Now()
	}
	r.mu.Unlock()

	if r.opts.PIDFile != "" {
		if err := WritePIDFile(r.opts.PIDFile, pid, ident); err != nil {
			r.log.Error("cannot write pidfile; the runtime will not be found after a supervisor restart",
				"pidfile", r.opts.PIDFile, "pid", pid, "error", err)
		}
	}
	r.log.Debug("runtime launched, waiting for admin port", "pid", pid, "timeout", r.opts.StartTimeout)
	return r.waitReady(ctx, pid)
}

func (r *Runner) waitReady(ctx context.Context, pid int) error {
	deadline := time.Now().Add(r.opts.StartTimeout)
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if !r.live(pid) {
			r.forget(pid)
			return fmt.Errorf("pid %d: %w", pid, ErrExitedBeforeReady)
		}
		if r.opts.Pinger == nil || r.opts.Pinger.Ping(ctx, r.opts.PingTimeout) {
			r.log.Debug("runtime is answering", "pid", pid)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pid %d after %s: %w", pid, r.opts.StartTimeout, ErrReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop waits up to timeout for the process to exit on its own, typically
// after a control-plane shutdown. It reports whether the process is gone.
func (r *Runner) Stop(timeout time.Duration) bool {
	return r.waitGone(timeout)
}

// Terminate sends SIGTERM and waits up to timeout.
func (r *Runner) Terminate(timeout time.Duration) bool {
	return r.signalAndWait("terminate", terminate, timeout)
}

// Kill sends SIGKILL and waits up to timeout.
func (r *Runner) Kill(timeout time.Duration) bool {
	return r.signalAndWait("kill", kill, timeout)
}

func (r *Runner) signalAndWait(name string, send func(int) error, timeout time.Duration) bool {
	pid := r.currentPID()
	if pid > 0 && r.live(pid) {
		r.log.Info("signalling runtime", "signal", name, "pid", pid)
		if err := send(pid); err != nil {
			r.log.Warn("signal failed", "signal", name, "pid", pid, "error", err)
		}
	}
	return r.waitGone(timeout)
}

func (r *Runner) waitGone(timeout time.Duration) bool {
	pid := r.currentPID()
	if pid <= 0 {
		r.removePIDFile()
		return true
	}
	deadline := time.Now().Add(timeout)
	for r.live(pid) {
		if !time.Now().Before(deadline) {
			r.log.Debug("runtime still alive", "pid", pid, "waited", timeout)
			return false
		}
		time.Sleep(goneInterval)
	}
	r.forget(pid)
	r.log.Debug("runtime gone", "pid", pid)
	return true
}

// CheckPID reports whether the recorded process exists. A missing process
// is false, never an error.
func (r *Runner) CheckPID() bool {
	pid := r.currentPID()
	return pid > 0 && r.live(pid)
}

// PID returns the known pid or 0.
func (r *Runner) PID() int {
	return r.currentPID()
}

func (r *Runner) Handle() Handle {
	pid := r.currentPID()
	r.mu.Lock()
	started := r.startedAt
	r.mu.Unlock()
	if t := startTime(pid); !t.IsZero() {
		started = t
	}
	return Handle{PID: pid, PIDFile: r.opts.PIDFile, StartedAt: started}
}

// currentPID falls back to the pidfile so a runner created before another
// supervisor wrote it still finds the process.
func (r *Runner) currentPID() int {
	r.mu.Lock()
	pid := r.pid
	r.mu.Unlock()
	if pid > 0 || r.opts.PIDFile == "" {
		return pid
	}
	return r.adopt()
}

// adopt takes the pid from the pidfile. A pid whose start time differs
// from the recorded one was reused by the OS; the pidfile is then stale
// and removed.
func (r *Runner) adopt() int {
	rec, err := ReadPIDRecord(r.opts.PIDFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("unreadable pidfile", "pidfile", r.opts.PIDFile, "error", err)
		}
		return 0
	}
	cur := startTime(rec.PID)
	if !rec.Matches(cur) {
		r.log.Warn("pidfile names a pid now used by another process; ignoring it",
			"pidfile", r.opts.PIDFile, "pid", rec.PID,
			"recorded_start", rec.StartedAt, "actual_start", cur)
		r.removePIDFile()
		return 0
	}
	ident := rec.StartedAt
	if ident.IsZero() {
		ident = cur
	}
	r.mu.Lock()
	r.pid = rec.PID
	r.ident = ident
	r.startedAt = ident
	r.mu.Unlock()
	return rec.PID
}

// live reports whether pid exists and is still the process this runner
// launched or adopted.
func (r *Runner) live(pid int) bool {
	if !alive(pid) {
		return false
	}
	r.mu.Lock()
	ident := r.ident
	r.mu.Unlock()
	return PIDRecord{PID: pid, StartedAt: ident}.Matches(startTime(pid))
}

func (r *Runner) forget(pid int) {
	r.mu.Lock()
	if r.pid == pid {
		r.pid = 0
		r.startedAt = time.Time{}
		r.ident = time.Time{}
	}
	r.mu.Unlock()
	r.removePIDFile()
}

func (r *Runner) removePIDFile() {
	if err := RemovePIDFile(r.opts.PIDFile); err != nil {
		r.log.Warn("cannot remove pidfile", "pidfile", r.opts.PIDFile, "error", err)
	}
}
