package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/control/controltest"
	"github.com/loykin/runvisor/internal/history"
	"github.com/loykin/runvisor/internal/process"
)

const pass = "s3cr3t"

type fakeRunner struct {
	mu       sync.Mutex
	pid      int
	alive    bool
	startErr error
	// which stop stage makes the process go away
	stopOK, termOK, killOK bool
	calls                  []string
}

func (r *fakeRunner) record(c string) {
	r.calls = append(r.calls, c)
}

func (r *fakeRunner) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("start")
	if r.startErr != nil {
		return r.startErr
	}
	r.pid, r.alive = 4242, true
	return nil
}

func (r *fakeRunner) stage(name string, ok bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(name)
	if ok {
		r.alive = false
	}
	return !r.alive
}

func (r *fakeRunner) Stop(time.Duration) bool      { return r.stage("stop", r.stopOK) }
func (r *fakeRunner) Terminate(time.Duration) bool { return r.stage("terminate", r.termOK) }
func (r *fakeRunner) Kill(time.Duration) bool      { return r.stage("kill", r.killOK) }

func (r *fakeRunner) CheckPID() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

func (r *fakeRunner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

func (r *fakeRunner) Handle() process.Handle {
	return process.Handle{PID: r.PID(), PIDFile: "/run/runtime.pid"}
}

func (r *fakeRunner) setAlive(v bool) {
	r.mu.Lock()
	r.alive = v
	r.mu.Unlock()
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) ofType(t history.EventType) []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (m *memSink) transitions() []string {
	var out []string
	for _, e := range m.ofType(history.EventTransition) {
		out = append(out, e.To)
	}
	return out
}

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Supervisor: config.SupervisorOptions{AppBase: "/srv/app", RuntimePort: 8080},
		Control:    config.ControlOptions{SchemaSyncMaxAttempts: 5},
		Runtime:    map[string]any{"DatabaseType": "POSTGRESQL"},
		Logging: []config.LogSubscriber{
			{Type: "file", Name: "FileSubscriber", AutoSubscribe: "INFO", Nodes: map[string]string{"Core": "DEBUG"},
				Extra: map[string]any{"filename": "/tmp/runtime.log"}},
		},
	}
}

type harness struct {
	srv    *controltest.Server
	runner *fakeRunner
	sink   *memSink
	sup    *Supervisor
}

func newHarness(t *testing.T, leader func() bool) *harness {
	t.Helper()
	srv := controltest.New(pass)
	t.Cleanup(srv.Close)
	srv.Reply(control.ActionRuntimeStatus, controltest.Reply{Feedback: map[string]any{"status": "created"}})
	h := &harness{srv: srv, runner: &fakeRunner{stopOK: true}, sink: &memSink{}}
	h.sup = New(Options{
		Snapshot:           testSnapshot(),
		Control:            control.New(control.Config{Addr: srv.Addr(), Password: pass, Timeout: 2 * time.Second}),
		Runner:             h.runner,
		Leader:             leader,
		Sinks:              []history.Sink{h.sink},
		SchemaSyncInterval: time.Millisecond,
		PingTimeout:        time.Second,
	})
	return h
}

func asAbort(t *testing.T, err error) *AbortError {
	t.Helper()
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AbortError, got %T: %v", err, err)
	}
	return ae
}
