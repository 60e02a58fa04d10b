package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/loykin/runvisor/internal/control/controltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pass = "s3cr3t"

func newFake(t *testing.T) (*controltest.Server, *Client) {
	t.Helper()
	srv := controltest.New(pass)
	t.Cleanup(srv.Close)
	return srv, New(Config{Addr: srv.Addr(), Password: pass, Timeout: 2 * time.Second})
}

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) ObserveCall(action, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, action+":"+outcome)
}

func TestCallSendsActionAndCredential(t *testing.T) {
	srv, c := newFake(t)
	var params map[string]any
	srv.Handle("custom", func(p map[string]any) controltest.Reply {
		params = p
		return controltest.Reply{Feedback: map[string]any{"k": "v"}}
	})
	r, err := c.Call(context.Background(), "custom", map[string]any{"a": 1.0}, 0)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
	assert.Equal(t, map[string]any{"a": 1.0}, params)
	assert.Equal(t, "v", r.FeedbackMap()["k"])
}

func TestCallWrongCredential(t *testing.T) {
	srv := controltest.New(pass)
	defer srv.Close()
	c := New(Config{Addr: srv.Addr(), Password: "wrong"})
	r, err := c.Call(context.Background(), ActionAbout, nil, time.Second)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.Empty(t, srv.Calls())
}

func TestNonZeroResultIsResultError(t *testing.T) {
	srv, c := newFake(t)
	srv.Reply(ActionUpdateConfiguration, controltest.Reply{Result: 12, Message: "bad key"})
	err := c.UpdateConfiguration(context.Background(), map[string]any{"x": 1})
	var re *ResultError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ActionUpdateConfiguration, re.Action)
	assert.Equal(t, 12, re.Result)
	assert.Contains(t, err.Error(), "bad key")
}

func TestNeverRetries(t *testing.T) {
	srv, c := newFake(t)
	srv.Reply(ActionExecuteDDLCommands, controltest.Reply{Result: 1})
	require.Error(t, c.ExecuteDDLCommands(context.Background()))
	assert.Equal(t, 1, srv.Count(ActionExecuteDDLCommands))
}

func TestPingTrue(t *testing.T) {
	_, c := newFake(t)
	assert.True(t, c.Ping(context.Background(), time.Second))
}

func TestPingRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	rec := &recorder{}
	c := New(Config{Addr: addr, Password: pass, Observer: rec})
	assert.False(t, c.Ping(context.Background(), time.Second))
	assert.False(t, c.Echo(context.Background(), time.Second))
	assert.Equal(t, []string{"ping:transport", "echo:transport"}, rec.got)
}

func TestPingTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(Config{Addr: srv.Listener.Addr().String(), Password: pass})
	start := time.Now()
	assert.False(t, c.Ping(context.Background(), 100*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPingMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(Config{Addr: srv.Listener.Addr().String(), Password: pass})
	assert.False(t, c.Ping(context.Background(), time.Second))

	_, err := c.Call(context.Background(), ActionAbout, nil, time.Second)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestEcho(t *testing.T) {
	srv, c := newFake(t)
	srv.Handle(ActionEcho, func(p map[string]any) controltest.Reply {
		return controltest.Reply{Feedback: map[string]any{"echo": p["echo"]}}
	})
	assert.True(t, c.Echo(context.Background(), time.Second))

	srv.Reply(ActionEcho, controltest.Reply{Feedback: map[string]any{"echo": "other"}})
	assert.False(t, c.Echo(context.Background(), time.Second))
}

func TestRuntimeStatus(t *testing.T) {
	srv, c := newFake(t)
	srv.Reply(ActionRuntimeStatus, controltest.Reply{Feedback: map[string]any{"status": StatusCreated}})
	st, err := c.RuntimeStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, st)
}

func TestStartOutcomes(t *testing.T) {
	srv, c := newFake(t)
	for code, want := range map[int]StartOutcome{
		0:  StartSuccess{},
		2:  StartNoDatabase{},
		3:  StartSchemaOutOfSync{},
		4:  StartMissingConstants{},
		5:  StartInvalidScheduledEvents{},
		6:  StartInvalidState{},
		7:  StartLicenseRejected{},
		8:  StartLicenseExpired{},
		9:  StartAdminUserMissing{},
		42: StartUnknown{Code: 42},
	} {
		srv.Reply(ActionStart, controltest.Reply{Result: code})
		got, resp, err := c.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got, "code %d", code)
		assert.Equal(t, code, got.Result())
		assert.Equal(t, code, resp.Result)
	}
	assert.Equal(t, "schema_out_of_sync", OutcomeLabel(StartSchemaOutOfSync{}))
	assert.Equal(t, "unknown", OutcomeLabel(StartUnknown{Code: 1}))
}

func TestStartTransportError(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:1", Password: pass})
	_, _, err := c.Start(context.Background())
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestDDL(t *testing.T) {
	srv, c := newFake(t)
	srv.Reply(ActionGetDDLCommands, controltest.Reply{Feedback: map[string]any{"commands": []string{"CREATE TABLE a (id int)"}}})
	cmds, err := c.GetDDLCommands(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE a (id int)"}, cmds)
	assert.NoError(t, c.ExecuteDDLCommands(context.Background()))
}

func TestShutdownHangupIsSuccess(t *testing.T) {
	srv, c := newFake(t)
	srv.Reply(ActionShutdown, controltest.Reply{Hangup: true})
	assert.NoError(t, c.Shutdown(context.Background(), time.Second))
	assert.Equal(t, 1, srv.Count(ActionShutdown))
}

func TestShutdownResultError(t *testing.T) {
	srv, c := newFake(t)
	srv.Reply(ActionShutdown, controltest.Reply{Result: 5})
	err := c.Shutdown(context.Background(), time.Second)
	var re *ResultError
	assert.True(t, errors.As(err, &re))
}

func TestShutdownRefusedIsError(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:1", Password: pass})
	assert.Error(t, c.Shutdown(context.Background(), time.Second))
}

func TestSteadyStateWrappers(t *testing.T) {
	srv, c := newFake(t)
	var levelParams map[string]any
	srv.Handle(ActionSetLogLevel, func(p map[string]any) controltest.Reply {
		levelParams = p
		return controltest.Reply{}
	})
	srv.Reply(ActionCheckHealth, controltest.Reply{Feedback: Health{Status: "ok"}})
	srv.Reply(ActionAbout, controltest.Reply{Feedback: map[string]any{"version": "7.1"}})

	require.NoError(t, c.SetLogLevel(context.Background(), "console", map[string]string{"db": "debug"}))
	assert.Equal(t, "console", levelParams["subscriber"])
	require.NoError(t, c.EnableDebugger(context.Background(), "dbg"))
	require.NoError(t, c.DisableDebugger(context.Background()))
	require.NoError(t, c.CreateLogSubscriber(context.Background(), map[string]any{"type": "console", "name": "c"}))

	h, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())

	about, err := c.About(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7.1", about["version"])

	_, err = c.RuntimeStatistics(context.Background())
	assert.NoError(t, err)
	_, err = c.ServerStatistics(context.Background())
	assert.NoError(t, err)
	_, err = c.GetLogSettings(context.Background())
	assert.NoError(t, err)
}
