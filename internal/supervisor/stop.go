package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/runvisor/internal/metrics"
)

// Stop asks the runtime to shut down and escalates to SIGTERM and SIGKILL,
// each stage waiting up to timeout. A zero timeout uses the snapshot's
// shutdown timeout.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	s.op.Lock()
	defer s.op.Unlock()

	if timeout <= 0 {
		timeout = 10 * time.Second
		if snap := s.Snapshot(); snap != nil {
			timeout = snap.ShutdownTimeout()
		}
	}

	pid := s.runner.PID()
	if !s.runner.CheckPID() {
		// clears a stale pidfile
		s.runner.Stop(0)
		s.setState(StateStopped, "not running")
		return nil
	}

	s.setState(StateStopping, "")
	if err := s.ctl.Shutdown(ctx, timeout); err != nil {
		s.log.Warn("shutdown request failed, waiting for the process anyway", "pid", pid, "error", err)
	}

	method := "shutdown"
	switch {
	case s.runner.Stop(timeout):
	case s.runner.Terminate(timeout):
		method = "terminate"
	case s.runner.Kill(timeout):
		method = "kill"
	default:
		err := fmt.Errorf("pid %d survived SIGKILL", pid)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("runtime did not stop", "pid", pid)
		return err
	}
	if method != "shutdown" {
		s.log.Warn("runtime needed a signal to stop", "pid", pid, "method", method)
	}
	metrics.IncStop(method)
	s.mu.Lock()
	s.up = false
	s.mu.Unlock()
	s.setState(StateStopped, method)
	return nil
}
