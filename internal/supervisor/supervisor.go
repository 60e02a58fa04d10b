package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/history"
	"github.com/loykin/runvisor/internal/logger"
	"github.com/loykin/runvisor/internal/metrics"
	"github.com/loykin/runvisor/internal/process"
)

// Controller is the control-plane surface the supervisor drives.
// *control.Client implements it.
type Controller interface {
	Ping(ctx context.Context, timeout time.Duration) bool
	RuntimeStatus(ctx context.Context) (string, error)
	UpdateAppContainerConfiguration(ctx context.Context, params map[string]any) error
	UpdateConfiguration(ctx context.Context, params map[string]any) error
	Start(ctx context.Context) (control.StartOutcome, *control.Response, error)
	GetDDLCommands(ctx context.Context) ([]string, error)
	ExecuteDDLCommands(ctx context.Context) error
	Shutdown(ctx context.Context, timeout time.Duration) error
	CreateLogSubscriber(ctx context.Context, sub map[string]any) error
	SetLogLevel(ctx context.Context, subscriber string, nodes map[string]string) error
	GetLogSettings(ctx context.Context) (map[string]any, error)
	EnableDebugger(ctx context.Context, password string) error
	DisableDebugger(ctx context.Context) error
	CheckHealth(ctx context.Context) (control.Health, error)
	About(ctx context.Context) (map[string]any, error)
	RuntimeStatistics(ctx context.Context) (map[string]any, error)
}

// ProcessRunner owns the OS process. *process.Runner implements it.
type ProcessRunner interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) bool
	Terminate(timeout time.Duration) bool
	Kill(timeout time.Duration) bool
	CheckPID() bool
	PID() int
	Handle() process.Handle
}

// Options configure a Supervisor.
type Options struct {
	Snapshot *config.Snapshot
	Control  Controller
	Runner   ProcessRunner
	// Leader is evaluated each time the runtime reports the schema out of
	// sync. Nil means never leader.
	Leader func() bool
	Sinks  []history.Sink
	Logger *slog.Logger
	// SchemaSyncInterval overrides the snapshot's wait between start
	// attempts of a non-leader.
	SchemaSyncInterval time.Duration
	// PingTimeout bounds the monitor's ping; defaults to 2s.
	PingTimeout time.Duration
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State       State     `json:"state"`
	PID         int       `json:"pid"`
	PIDFile     string    `json:"pidfile,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Up          bool      `json:"up"`
	Attempts    int       `json:"schema_sync_attempts,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Supervisor drives one runtime through its lifecycle. Operations that talk
// to the runtime are serialized; State and Status may be read concurrently.
type Supervisor struct {
	ctl    Controller
	runner ProcessRunner
	leader func() bool
	sinks  []history.Sink
	log    *slog.Logger
	opts   Options

	op sync.Mutex // one control conversation at a time

	mu          sync.RWMutex
	snap        *config.Snapshot
	state       State
	up          bool
	attempts    int
	lastOutcome string
	lastErr     error
}

func New(opts Options) *Supervisor {
	leader := opts.Leader
	if leader == nil {
		leader = func() bool { return false }
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}
	return &Supervisor{
		ctl:    opts.Control,
		runner: opts.Runner,
		leader: leader,
		sinks:  append([]history.Sink(nil), opts.Sinks...),
		log:    logger.OrDiscard(opts.Logger).With("component", "supervisor"),
		opts:   opts,
		snap:   opts.Snapshot,
		state:  StateNotStarted,
	}
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) Snapshot() *config.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Supervisor) Status() Status {
	h := s.runner.Handle()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:       s.state,
		PID:         h.PID,
		PIDFile:     h.PIDFile,
		StartedAt:   h.StartedAt,
		Up:          s.up,
		Attempts:    s.attempts,
		LastOutcome: s.lastOutcome,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// PID returns the runtime pid or 0.
func (s *Supervisor) PID() int { return s.runner.PID() }

func (s *Supervisor) runtimeName() string {
	if snap := s.Snapshot(); snap != nil {
		return snap.Supervisor.AppBase
	}
	return ""
}

// setState records a transition in the log, metrics and history.
func (s *Supervisor) setState(to State, detail string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}

	s.log.Info("state transition", "from", from.String(), "to", to.String(), "detail", detail)
	metrics.RecordStateTransition(from.String(), to.String())
	s.record(history.Event{
		Type:   history.EventTransition,
		From:   from.String(),
		To:     to.String(),
		Detail: detail,
	})
}

func (s *Supervisor) record(e history.Event) {
	if len(s.sinks) == 0 {
		return
	}
	e.Runtime = s.runtimeName()
	if e.PID == 0 {
		e.PID = s.runner.PID()
	}
	history.Broadcast(context.Background(), s.sinks, e, s.log)
}

func (s *Supervisor) requireRunning() error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	return nil
}

// Reload adopts a new snapshot whose behavioral fields are unchanged. Log
// subscribers are re-created when they differ and the runtime is running.
func (s *Supervisor) Reload(ctx context.Context, next *config.Snapshot) error {
	s.mu.Lock()
	prev := s.snap
	if prev != nil {
		if changed := prev.BehaviorChanged(next); len(changed) > 0 {
			s.mu.Unlock()
			return &config.ConfigError{Field: changed[0], Err: errors.New("changes require a restart")}
		}
	}
	s.snap = next
	s.mu.Unlock()
	s.log.Info("configuration reloaded", "files", next.Files)

	if prev != nil && !loggingChanged(prev.Logging, next.Logging) {
		return nil
	}
	if s.State() != StateRunning {
		return nil
	}
	return s.ResubscribeLogs(ctx)
}
