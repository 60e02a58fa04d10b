package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/loykin/runvisor"
	"github.com/loykin/runvisor/internal/auth"
	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/memory"
	"github.com/loykin/runvisor/internal/metrics"
	"github.com/loykin/runvisor/internal/server"
	"github.com/loykin/runvisor/internal/supervisor"
	tlsutil "github.com/loykin/runvisor/internal/tls"
)

type command struct {
	v     *viper.Viper
	flags *GlobalFlags
	out   io.Writer
	// signals overrides the shutdown signal source in tests.
	signals func(ctx context.Context) (context.Context, context.CancelFunc)
}

func (c *command) open(ctx context.Context, withHistory bool) (*session, error) {
	return openSession(ctx, c.v, c.flags.ConfigPath, withHistory)
}

func (c *command) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// attach adopts a runtime recorded in the pidfile so steady-state calls
// can be issued.
func (c *command) attach(ctx context.Context) (*session, error) {
	s, err := c.open(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := s.sup.Attach(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// Run starts or attaches to the runtime and supervises it until a signal.
func (c *command) Run(ctx context.Context, f RunFlags) error {
	s, err := c.open(ctx, true)
	if err != nil {
		return err
	}
	defer s.close()
	a, log := s.agent, s.log

	notify := c.signals
	if notify == nil {
		notify = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		}
	}
	runCtx, stopSignals := notify(ctx)
	defer stopSignals()

	var gatherer prometheus.Gatherer
	var proc *metrics.ProcessCollector
	if f.Metrics || a.Metrics.Enabled {
		if err := runvisor.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		mem := metrics.NewMemoryCollector(s.sup.PID)
		if err := prometheus.Register(mem); err != nil {
			log.Warn("failed to register memory collector", "error", err)
		}
		proc = metrics.NewProcessCollector(metrics.ProcessMetricsConfig{
			Enabled:  true,
			Interval: a.Metrics.ProcessInterval,
		}, log)
		if err := proc.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register process metrics", "error", err)
		}
		proc.Start(runCtx, s.sup.PID)
		defer proc.Stop()
		gatherer = prometheus.DefaultGatherer
	}

	listen := a.Status.Listen
	if f.Listen != "" {
		listen = f.Listen
	}
	if listen != "" {
		tlsCfg, err := tlsutil.Setup(a.Status.TLS)
		if err != nil {
			return fmt.Errorf("status TLS: %w", err)
		}
		var guard *auth.Middleware
		if a.Status.Auth.Enabled {
			svc, err := auth.NewAuthService(a.Status.Auth)
			if err != nil {
				return fmt.Errorf("status auth: %w", err)
			}
			guard = auth.NewMiddleware(svc)
		}
		router := server.NewRouter(server.Options{
			BasePath:   a.Status.BasePath,
			Supervisor: s.sup,
			Gatherer:   gatherer,
			Process:    proc,
			Logger:     log,
			Auth:       guard,
		})
		srv, err := server.NewServer(listen, router, tlsCfg)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		defer shutdownServer(srv)
	}

	if err := c.startOrAttach(runCtx, s); err != nil {
		return err
	}

	if f.Watch || a.Watch {
		w := config.NewWatcher(s.snap, a.Sources(), s.overrides, func(next *config.Snapshot) {
			if err := s.sup.Reload(runCtx, next); err != nil {
				log.Warn("configuration not applied", "error", err)
			}
		}, log)
		go func() {
			if err := w.Run(runCtx); err != nil {
				log.Warn("config watcher stopped", "error", err)
			}
		}()
	}
	go s.sup.Monitor(runCtx, a.Monitor.Interval)

	<-runCtx.Done()
	log.Info("shutting down runtime")
	return stopRuntime(s)
}

// startOrAttach brings the runtime to running. An aborted start stops
// whatever was launched before the error is returned.
func (c *command) startOrAttach(ctx context.Context, s *session) error {
	err := s.sup.Start(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		s.log.Info("runtime already running, attaching", "pid", s.sup.PID())
		return s.sup.Attach(ctx)
	case supervisor.IsAbort(err):
		s.log.Error("runtime start aborted", "error", err)
		if stopErr := stopRuntime(s); stopErr != nil {
			s.log.Error("cleanup after abort failed", "error", stopErr)
		}
	}
	return err
}

// stopRuntime uses a fresh context: the caller's is usually cancelled by then.
func stopRuntime(s *session) error {
	timeout := s.snap.ShutdownTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), 4*timeout+5*time.Second)
	defer cancel()
	return s.sup.Stop(ctx, timeout)
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func (c *command) Start(ctx context.Context) error {
	s, err := c.open(ctx, true)
	if err != nil {
		return err
	}
	defer s.close()
	err = s.sup.Start(ctx)
	if supervisor.IsAbort(err) {
		if stopErr := stopRuntime(s); stopErr != nil {
			s.log.Error("cleanup after abort failed", "error", stopErr)
		}
	}
	printJSON(c.out, s.sup.Status())
	return err
}

func (c *command) Stop(ctx context.Context, f StopFlags) error {
	s, err := c.open(ctx, true)
	if err != nil {
		return err
	}
	defer s.close()
	if f.Timeout <= 0 {
		f.Timeout = s.snap.ShutdownTimeout()
	}
	if err := s.sup.Stop(ctx, f.Timeout); err != nil {
		return err
	}
	printJSON(c.out, s.sup.Status())
	return nil
}

// statusView is what 'runvisor status' prints.
type statusView struct {
	supervisor.Status
	RuntimeVersion string `json:"runtime_version"`
	AdminAddr      string `json:"admin_addr"`
}

func (c *command) Status(ctx context.Context) error {
	s, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.sup.Attach(ctx); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		s.log.Warn("runtime process found but not answering", "pid", s.sup.PID(), "error", err)
	}
	printJSON(c.out, statusView{
		Status:         s.sup.Status(),
		RuntimeVersion: s.snap.RuntimeVersion.String(),
		AdminAddr:      s.snap.AdminAddr(),
	})
	return nil
}

func (c *command) Ping(ctx context.Context, f PingFlags) error {
	s, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()
	ctl := control.New(control.Config{
		Addr:     s.snap.AdminAddr(),
		Password: s.snap.Supervisor.AdminPass,
		Logger:   s.log,
	})
	var ok bool
	if f.Echo {
		ok = ctl.Echo(ctx, f.Timeout)
	} else {
		ok = ctl.Ping(ctx, f.Timeout)
	}
	if !ok {
		return fmt.Errorf("runtime not answering on %s", s.snap.AdminAddr())
	}
	c.printf("ok\n")
	return nil
}

func (c *command) Memory(ctx context.Context) error {
	s, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()
	pid := s.sup.PID()
	if pid <= 0 {
		return supervisor.ErrNotRunning
	}
	cats, ok := memory.Classify(pid)
	if !ok {
		return fmt.Errorf("memory map of pid %d not available", pid)
	}
	var total uint64
	for _, kb := range cats {
		total += kb
	}
	printJSON(c.out, map[string]any{"pid": pid, "categories_kb": cats, "total_kb": total})
	return nil
}

func (c *command) LogLevel(ctx context.Context, args []string) error {
	s, err := c.attach(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	if len(args) == 0 {
		settings, err := s.sup.LogSettings(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, settings)
		return nil
	}
	if len(args) < 2 {
		return errors.New("usage: log-level <subscriber> node=LEVEL...")
	}
	nodes, err := parseNodeLevels(args[1:])
	if err != nil {
		return err
	}
	if err := s.sup.SetLogLevels(ctx, args[0], nodes); err != nil {
		return err
	}
	c.printf("ok\n")
	return nil
}

func (c *command) Debugger(ctx context.Context, enable bool, password string) error {
	s, err := c.attach(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	if enable {
		err = s.sup.EnableDebugger(ctx, password)
	} else {
		err = s.sup.DisableDebugger(ctx)
	}
	if err != nil {
		return err
	}
	c.printf("ok\n")
	return nil
}

func (c *command) Health(ctx context.Context) error {
	s, err := c.attach(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	h, err := s.sup.CheckHealth(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, h)
	if !h.Healthy() {
		return fmt.Errorf("runtime unhealthy: %s", h.Description)
	}
	return nil
}

// HashPassword prints the bcrypt hash for a status API user entry. The
// password is read from in when not given.
func (c *command) HashPassword(in io.Reader, password string, cost int) error {
	if password == "" {
		b, err := io.ReadAll(io.LimitReader(in, 1024))
		if err != nil {
			return err
		}
		password = strings.TrimRight(string(b), "\r\n")
	}
	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		return err
	}
	c.printf("%s\n", hash)
	return nil
}
