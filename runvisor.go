package runvisor

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/history"
	"github.com/loykin/runvisor/internal/history/factory"
	"github.com/loykin/runvisor/internal/logger"
	"github.com/loykin/runvisor/internal/metrics"
	"github.com/loykin/runvisor/internal/process"
	"github.com/loykin/runvisor/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Snapshot = cfg.Snapshot

type Sources = cfg.Sources

type State = supervisor.State

type Status = supervisor.Status

type Supervisor = supervisor.Supervisor

type AbortError = supervisor.AbortError

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Health = control.Health

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
)

// Options configure New. Every field is optional.
type Options struct {
	Logger *slog.Logger
	// Leader reports whether this instance may migrate the schema.
	Leader func() bool
	Sinks  []HistorySink
	// Launcher replaces the platform's detached launcher.
	Launcher process.Launcher
	// Observer receives control call timings; defaults to the package metrics.
	Observer control.Observer
}

// Resolve merges the layered configuration into a snapshot.
func Resolve(ctx context.Context, src Sources, overrides map[string]any, log *slog.Logger) (*Snapshot, error) {
	return cfg.Resolve(ctx, src, overrides, log)
}

// New wires a control client and process runner for snap into a supervisor.
func New(snap *Snapshot, opts Options) *Supervisor {
	log := logger.OrDiscard(opts.Logger)
	obs := opts.Observer
	if obs == nil {
		obs = metrics.ControlObserver{}
	}
	ctl := control.New(control.Config{
		Addr:     snap.AdminAddr(),
		Password: snap.Supervisor.AdminPass,
		Timeout:  snap.ControlTimeout(),
		Logger:   log,
		Observer: obs,
	})
	runner := process.NewRunner(process.Options{
		Spec:         LaunchSpec(snap),
		PIDFile:      snap.Supervisor.PIDFile,
		StartTimeout: snap.StartTimeout(),
		Launcher:     opts.Launcher,
		Pinger:       ctl,
		Logger:       log,
	})
	return supervisor.New(supervisor.Options{
		Snapshot: snap,
		Control:  ctl,
		Runner:   runner,
		Leader:   opts.Leader,
		Sinks:    opts.Sinks,
		Logger:   log,
	})
}

// LaunchSpec derives the runtime's launch description from snap.
func LaunchSpec(snap *Snapshot) process.LaunchSpec {
	return process.LaunchSpec{
		Path:   snap.Exec.Path,
		Args:   snap.Exec.Args,
		Env:    snap.Exec.Env,
		Output: snap.Supervisor.StdoutLog,
	}
}

// NewHistorySinks opens one sink per DSN; see history/factory for formats.
func NewHistorySinks(dsns []string) ([]HistorySink, error) { return factory.NewSinks(dsns) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

func MetricsHandler() http.Handler { return metrics.Handler() }
