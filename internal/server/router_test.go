package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/runvisor/internal/auth"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/memory"
	"github.com/loykin/runvisor/internal/metrics"
	"github.com/loykin/runvisor/internal/supervisor"
)

type fakeSupervisor struct {
	status   supervisor.Status
	health   control.Health
	err      error
	settings map[string]any
	gotSub   string
	gotNodes map[string]string
}

func (f *fakeSupervisor) Status() supervisor.Status { return f.status }
func (f *fakeSupervisor) PID() int                  { return f.status.PID }
func (f *fakeSupervisor) CheckHealth(context.Context) (control.Health, error) {
	return f.health, f.err
}
func (f *fakeSupervisor) LogSettings(context.Context) (map[string]any, error) {
	return f.settings, f.err
}
func (f *fakeSupervisor) SetLogLevels(_ context.Context, sub string, nodes map[string]string) error {
	f.gotSub, f.gotNodes = sub, nodes
	return f.err
}

func setupRouter(t *testing.T, base string, sup *fakeSupervisor, mutate ...func(*Options)) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts := Options{BasePath: base, Supervisor: sup}
	for _, m := range mutate {
		m(&opts)
	}
	return NewRouter(opts).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	sup := &fakeSupervisor{status: supervisor.Status{State: supervisor.StateRunning, PID: 77, LastOutcome: "success"}}
	h := setupRouter(t, "/abc", sup)
	rec := doReq(t, h, http.MethodGet, "/abc/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "running", got["state"])
	assert.EqualValues(t, 77, got["pid"])

	rec = doReq(t, h, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	sup := &fakeSupervisor{health: control.Health{Status: "ok"}}
	h := setupRouter(t, "", sup)
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodGet, "/health", nil).Code)

	sup.health = control.Health{Status: "sick", Description: "database unreachable"}
	rec := doReq(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unreachable")

	sup.err = supervisor.ErrNotRunning
	assert.Equal(t, http.StatusServiceUnavailable, doReq(t, h, http.MethodGet, "/health", nil).Code)

	sup.err = &control.TransportError{Action: "check_health", Err: errors.New("refused")}
	assert.Equal(t, http.StatusBadGateway, doReq(t, h, http.MethodGet, "/health", nil).Code)
}

func TestMemory(t *testing.T) {
	sup := &fakeSupervisor{}
	classify := func(pid int) (map[memory.Category]uint64, bool) {
		if pid == 13 {
			return nil, false
		}
		return map[memory.Category]uint64{memory.RuntimeHeap: 100, memory.Code: 20}, true
	}
	h := setupRouter(t, "", sup, func(o *Options) { o.Classify = classify })

	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/memory", nil).Code)

	sup.status.PID = 13
	assert.Equal(t, http.StatusNotImplemented, doReq(t, h, http.MethodGet, "/memory", nil).Code)

	sup.status.PID = 42
	rec := doReq(t, h, http.MethodGet, "/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got memoryResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(120), got.TotalKB)
	assert.Equal(t, uint64(100), got.Categories[memory.RuntimeHeap])
}

func TestLogLevel(t *testing.T) {
	sup := &fakeSupervisor{settings: map[string]any{"FileSubscriber": map[string]any{"Core": "INFO"}}}
	h := setupRouter(t, "", sup)

	rec := doReq(t, h, http.MethodGet, "/log-level", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "FileSubscriber")

	rec = doReq(t, h, http.MethodPost, "/log-level", logLevelReq{Subscriber: "FileSubscriber", Nodes: map[string]string{"Core": "debug"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "FileSubscriber", sup.gotSub)
	assert.Equal(t, map[string]string{"Core": "DEBUG"}, sup.gotNodes)

	bad := []logLevelReq{
		{Subscriber: "", Nodes: map[string]string{"Core": "DEBUG"}},
		{Subscriber: "../x", Nodes: map[string]string{"Core": "DEBUG"}},
		{Subscriber: "FileSubscriber"},
		{Subscriber: "FileSubscriber", Nodes: map[string]string{"Core": "LOUD"}},
		{Subscriber: "FileSubscriber", Nodes: map[string]string{"a/b": "INFO"}},
	}
	for _, b := range bad {
		assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/log-level", b).Code, "%+v", b)
	}

	req := httptest.NewRequest(http.MethodPost, "/log-level", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	sup.err = supervisor.ErrNotRunning
	rec = doReq(t, h, http.MethodPost, "/log-level", logLevelReq{Subscriber: "FileSubscriber", Nodes: map[string]string{"Core": "INFO"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, doReq(t, h, http.MethodGet, "/log-level", nil).Code)
}

func TestMetricsEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "runvisor_test_total", Help: "t"}))
	pc := metrics.NewProcessCollector(metrics.ProcessMetricsConfig{Enabled: true, Interval: time.Hour}, nil)
	h := setupRouter(t, "", &fakeSupervisor{}, func(o *Options) {
		o.Gatherer = reg
		o.Process = pc
	})

	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "runvisor_test_total")

	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/metrics/process", nil).Code)
	rec = doReq(t, h, http.MethodGet, "/metrics/process?history=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	plain := setupRouter(t, "", &fakeSupervisor{})
	assert.Equal(t, http.StatusNotFound, doReq(t, plain, http.MethodGet, "/metrics", nil).Code)
}

func TestNewServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{Supervisor: &fakeSupervisor{status: supervisor.Status{State: supervisor.StateStopped}}})
	srv, err := NewServer("127.0.0.1:0", r, nil)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthGuardsEndpoints(t *testing.T) {
	hash, err := auth.HashPassword("op-pass", bcrypt.MinCost)
	require.NoError(t, err)
	viewHash, err := auth.HashPassword("view-pass", bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewAuthService(auth.Config{Users: []auth.User{
		{Username: "ops", PasswordHash: hash, Roles: []string{auth.RoleOperator}},
		{Username: "dash", PasswordHash: viewHash, Roles: []string{auth.RoleViewer}},
	}})
	require.NoError(t, err)

	sup := &fakeSupervisor{status: supervisor.Status{State: supervisor.StateRunning}}
	h := setupRouter(t, "", sup, func(o *Options) { o.Auth = auth.NewMiddleware(svc) })

	assert.Equal(t, http.StatusUnauthorized, doReq(t, h, http.MethodGet, "/status", nil).Code)

	rec := doReq(t, h, http.MethodPost, "/auth/token", tokenReq{Username: "dash", Password: "view-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tok auth.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.Value)

	withBearer := func(method, path string, body any) int {
		var rdr io.Reader
		if body != nil {
			b, _ := json.Marshal(body)
			rdr = bytes.NewReader(b)
		}
		req := httptest.NewRequest(method, path, rdr)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok.Value)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, withBearer(http.MethodGet, "/status", nil))
	set := logLevelReq{Subscriber: "FileSubscriber", Nodes: map[string]string{"Core": "INFO"}}
	assert.Equal(t, http.StatusForbidden, withBearer(http.MethodPost, "/log-level", set))

	req := httptest.NewRequest(http.MethodPost, "/log-level", bytes.NewReader([]byte(`{"subscriber":"FileSubscriber","nodes":{"Core":"INFO"}}`)))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("ops", "op-pass")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, http.StatusUnauthorized, doReq(t, h, http.MethodPost, "/auth/token", tokenReq{Username: "ops", Password: "nope"}).Code)
}
