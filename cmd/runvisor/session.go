package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/loykin/runvisor"
	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/history"
	"github.com/loykin/runvisor/internal/logger"
)

// session is everything one command invocation needs: agent settings, the
// resolved snapshot, a logger and a supervisor bound to the pidfile.
type session struct {
	agent     *config.Agent
	overrides map[string]any
	snap      *config.Snapshot
	log       *slog.Logger
	sinks     []history.Sink
	sup       *runvisor.Supervisor

	logCloser io.Closer
}

// openSession loads agent settings from v, resolves the runtime
// configuration and builds a supervisor. withHistory opens the history sinks.
func openSession(ctx context.Context, v *viper.Viper, agentPath string, withHistory bool) (*session, error) {
	agent, err := config.LoadAgent(v, agentPath)
	if err != nil {
		return nil, err
	}
	log, closer, err := logger.New(agent.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	s := &session{agent: agent, log: log, logCloser: closer}

	s.overrides, err = agent.OverrideTree()
	if err != nil {
		s.close()
		return nil, err
	}
	s.snap, err = runvisor.Resolve(ctx, agent.Sources(), s.overrides, log)
	if err != nil {
		s.close()
		return nil, err
	}
	if withHistory && len(agent.History.DSN) > 0 {
		s.sinks, err = runvisor.NewHistorySinks(agent.History.DSN)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("history: %w", err)
		}
	}
	leader := agent.Leader
	s.sup = runvisor.New(s.snap, runvisor.Options{
		Logger: log,
		Leader: func() bool { return leader },
		Sinks:  s.sinks,
	})
	return s, nil
}

func (s *session) close() {
	history.CloseAll(s.sinks)
	if s.logCloser != nil {
		_ = s.logCloser.Close()
	}
}
