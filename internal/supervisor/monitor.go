package supervisor

import (
	"context"
	"time"

	"github.com/loykin/runvisor/internal/history"
	"github.com/loykin/runvisor/internal/metrics"
)

// Monitor polls liveness every interval until ctx ends. It only reads:
// pid existence and ping. Flips are logged and sent to history; the up
// gauge is updated on every poll.
func (s *Supervisor) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	first := true
	for {
		s.probe(ctx, first)
		first = false
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, first bool) {
	pid := s.runner.PID()
	up := s.runner.CheckPID() && s.ctl.Ping(ctx, s.opts.PingTimeout)
	metrics.SetUp(up)

	s.mu.Lock()
	was := s.up
	s.up = up
	s.mu.Unlock()
	if !first && was == up {
		return
	}

	if up {
		s.log.Info("runtime is up", "pid", pid)
		s.record(history.Event{Type: history.EventUp, PID: pid})
		return
	}
	if st := s.State(); st == StateRunning {
		s.log.Warn("runtime is not responding", "pid", pid, "state", st.String())
	} else {
		s.log.Debug("runtime is down", "pid", pid, "state", st.String())
	}
	s.record(history.Event{Type: history.EventDown, PID: pid})
}
