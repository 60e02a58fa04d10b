package supervisor

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/control"
)

// SetLogLevels changes node levels of one log subscriber.
func (s *Supervisor) SetLogLevels(ctx context.Context, subscriber string, nodes map[string]string) error {
	return s.steady(func() error { return s.ctl.SetLogLevel(ctx, subscriber, nodes) })
}

// LogSettings returns the runtime's current subscribers and levels.
func (s *Supervisor) LogSettings(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := s.steady(func() error {
		var err error
		out, err = s.ctl.GetLogSettings(ctx)
		return err
	})
	return out, err
}

func (s *Supervisor) EnableDebugger(ctx context.Context, password string) error {
	if password == "" {
		return errors.New("debugger password must not be empty")
	}
	return s.steady(func() error { return s.ctl.EnableDebugger(ctx, password) })
}

func (s *Supervisor) DisableDebugger(ctx context.Context) error {
	return s.steady(func() error { return s.ctl.DisableDebugger(ctx) })
}

func (s *Supervisor) CheckHealth(ctx context.Context) (control.Health, error) {
	var h control.Health
	err := s.steady(func() error {
		var err error
		h, err = s.ctl.CheckHealth(ctx)
		return err
	})
	return h, err
}

// About returns the runtime's self-description.
func (s *Supervisor) About(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := s.steady(func() error {
		var err error
		out, err = s.ctl.About(ctx)
		return err
	})
	return out, err
}

func (s *Supervisor) RuntimeStatistics(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := s.steady(func() error {
		var err error
		out, err = s.ctl.RuntimeStatistics(ctx)
		return err
	})
	return out, err
}

// ResubscribeLogs re-creates every configured log subscriber, for example
// after the runtime dropped them.
func (s *Supervisor) ResubscribeLogs(ctx context.Context) error {
	return s.steady(func() error {
		var errs []error
		for _, sub := range s.Snapshot().Logging {
			if err := s.ctl.CreateLogSubscriber(ctx, subscriberParams(sub)); err != nil {
				errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.Name, err))
			}
		}
		return errors.Join(errs...)
	})
}

// steady runs one control call in Running, without retries.
func (s *Supervisor) steady(call func() error) error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.requireRunning(); err != nil {
		return err
	}
	return call()
}

// subscribeLogs is best effort during start.
func (s *Supervisor) subscribeLogs(ctx context.Context, snap *config.Snapshot) {
	if snap == nil {
		return
	}
	for _, sub := range snap.Logging {
		if err := s.ctl.CreateLogSubscriber(ctx, subscriberParams(sub)); err != nil {
			s.log.Warn("cannot create log subscriber", "name", sub.Name, "type", sub.Type, "error", err)
		}
	}
}

func subscriberParams(sub config.LogSubscriber) map[string]any {
	p := make(map[string]any, len(sub.Extra)+4)
	for k, v := range sub.Extra {
		p[k] = v
	}
	p["type"] = sub.Type
	p["name"] = sub.Name
	if sub.AutoSubscribe != "" {
		p["autosubscribe"] = sub.AutoSubscribe
	}
	if len(sub.Nodes) > 0 {
		p["nodes"] = sub.Nodes
	}
	return p
}

func loggingChanged(a, b []config.LogSubscriber) bool {
	return !reflect.DeepEqual(a, b)
}
