package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/history"
	"github.com/loykin/runvisor/internal/metrics"
)

// Start drives the runtime from NotStarted to Running. Any failure leaves
// the machine in Aborted and returns an *AbortError; the runtime process is
// left as it is for the caller to inspect or stop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.runner.CheckPID() {
		return fmt.Errorf("pid %d: %w", s.runner.PID(), ErrAlreadyRunning)
	}
	s.mu.Lock()
	s.attempts, s.lastOutcome, s.lastErr = 0, "", nil
	snap := s.snap
	s.mu.Unlock()

	s.setState(StateLaunching, "")
	began := time.Now()
	if err := s.runner.Start(ctx); err != nil {
		return s.abort(StateLaunching, "runtime did not come up", nil, err)
	}
	metrics.ObserveLaunchDuration(time.Since(began))

	status, err := s.ctl.RuntimeStatus(ctx)
	if err != nil {
		return s.abort(StateLaunching, "cannot read runtime status", nil, err)
	}
	if status != control.StatusCreated && status != control.StatusStarting {
		return s.abort(StateLaunching, fmt.Sprintf("unexpected runtime status %q", status), nil, nil)
	}
	s.setState(StateContainerStarted, "status "+status)

	if err := s.ctl.UpdateAppContainerConfiguration(ctx, appContainerParams(snap)); err != nil {
		return s.abort(StateContainerStarted, "app container configuration rejected", nil, err)
	}
	if err := s.ctl.UpdateConfiguration(ctx, runtimeParams(snap)); err != nil {
		return s.abort(StateContainerStarted, "runtime configuration rejected", nil, err)
	}
	s.subscribeLogs(ctx, snap)
	s.setState(StateConfigSent, "")

	s.setState(StateStarting, "")
	return s.startApplication(ctx, snap)
}

// startApplication issues start until it succeeds, fails for good, or the
// schema stays out of sync for more than the configured attempts.
func (s *Supervisor) startApplication(ctx context.Context, snap *config.Snapshot) error {
	maxAttempts := config.DefaultSchemaSyncAttempts
	interval := time.Duration(config.DefaultSchemaSyncInterval) * time.Second
	if snap != nil {
		maxAttempts = snap.SchemaSyncMaxAttempts()
		interval = snap.SchemaSyncInterval()
	}
	if s.opts.SchemaSyncInterval > 0 {
		interval = s.opts.SchemaSyncInterval
	}

	for {
		outcome, resp, err := s.ctl.Start(ctx)
		if err != nil {
			return s.abort(StateStarting, "start call failed", nil, err)
		}
		s.recordOutcome(outcome)

		switch outcome.(type) {
		case control.StartSuccess:
			s.setState(StateRunning, "")
			return nil
		case control.StartSchemaOutOfSync:
		default:
			return s.abort(StateStarting, diagnose(outcome, resp), outcome, nil)
		}

		s.mu.Lock()
		s.attempts++
		n := s.attempts
		s.mu.Unlock()
		if n > maxAttempts {
			return s.abort(StateStarting,
				fmt.Sprintf("database schema still out of sync after %d attempts", maxAttempts), outcome, nil)
		}

		if s.leader() {
			if err := s.synchronizeSchema(ctx); err != nil {
				return s.abort(StateStarting, "schema synchronization failed", outcome, err)
			}
			continue
		}
		s.log.Info("database schema out of sync, waiting for the leader",
			"attempt", n, "max_attempts", maxAttempts, "retry_in", interval)
		select {
		case <-ctx.Done():
			return s.abort(StateStarting, "interrupted while waiting for schema synchronization", outcome, ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (s *Supervisor) synchronizeSchema(ctx context.Context) error {
	cmds, err := s.ctl.GetDDLCommands(ctx)
	if err != nil {
		s.log.Warn("cannot list schema commands", "error", err)
	} else {
		s.log.Info("synchronizing database schema", "commands", len(cmds))
		for _, c := range cmds {
			s.log.Debug("schema command", "sql", c)
		}
	}
	return s.ctl.ExecuteDDLCommands(ctx)
}

func (s *Supervisor) recordOutcome(o control.StartOutcome) {
	label := control.OutcomeLabel(o)
	s.mu.Lock()
	s.lastOutcome = label
	s.mu.Unlock()
	metrics.IncStartOutcome(label)
	s.record(history.Event{Type: history.EventStartOutcome, Detail: label})
	s.log.Debug("start result", "result", o.Result(), "outcome", o.String())
}

func (s *Supervisor) abort(at State, reason string, outcome control.StartOutcome, err error) error {
	ae := &AbortError{State: at, Reason: reason, Outcome: outcome, Err: err}
	s.mu.Lock()
	s.lastErr = ae
	s.mu.Unlock()
	s.log.Error("start aborted", "state", at.String(), "reason", reason, "error", err)
	s.setState(StateAborted, reason)
	return ae
}

// diagnose turns a terminal start outcome into operator guidance.
func diagnose(o control.StartOutcome, resp *control.Response) string {
	var fb map[string]any
	msg := ""
	if resp != nil {
		fb = resp.FeedbackMap()
		msg = resp.Message
	}
	var b strings.Builder
	b.WriteString(o.String())
	switch o.(type) {
	case control.StartNoDatabase:
		b.WriteString("; configure a database in the runtime section")
	case control.StartMissingConstants:
		if l := list(fb["missing_constants"]); l != "" {
			b.WriteString(": " + l)
		}
	case control.StartInvalidScheduledEvents:
		if l := list(fb["scheduled_events"]); l != "" {
			b.WriteString(": " + l)
		}
	case control.StartLicenseRejected, control.StartLicenseExpired:
		b.WriteString("; check the license configured for this deployment")
	case control.StartAdminUserMissing:
		b.WriteString("; create an administrative user before starting")
	}
	if msg != "" {
		b.WriteString(" (" + msg + ")")
	}
	return b.String()
}

func list(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, ", ")
}

func appContainerParams(snap *config.Snapshot) map[string]any {
	if snap == nil {
		return map[string]any{}
	}
	p := map[string]any{"runtime_port": snap.Supervisor.RuntimePort}
	if a := snap.Supervisor.RuntimeListenAddresses; a != "" {
		p["runtime_listen_addresses"] = a
	}
	return p
}

func runtimeParams(snap *config.Snapshot) map[string]any {
	if snap == nil || snap.Runtime == nil {
		return map[string]any{}
	}
	return snap.Runtime
}

// Attach adopts a runtime started by another supervisor instance. It
// succeeds when the pidfile names a live process that reports running.
func (s *Supervisor) Attach(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if !s.runner.CheckPID() {
		return ErrNotRunning
	}
	status, err := s.ctl.RuntimeStatus(ctx)
	if err != nil {
		return fmt.Errorf("attach to pid %d: %w", s.runner.PID(), err)
	}
	if status != control.StatusRunning {
		return fmt.Errorf("runtime reports %q: %w", status, ErrNotRunning)
	}
	s.setState(StateRunning, "attached")
	return nil
}

// IsAbort reports whether err came from an aborted start.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
