package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/memory"
	"github.com/loykin/runvisor/internal/server"
	"github.com/loykin/runvisor/internal/supervisor"
)

type agentStub struct {
	health control.Health
	nodes  map[string]string
}

func (a *agentStub) Status() supervisor.Status {
	return supervisor.Status{State: supervisor.StateRunning, PID: 99}
}
func (a *agentStub) PID() int { return 99 }
func (a *agentStub) CheckHealth(context.Context) (control.Health, error) {
	return a.health, nil
}
func (a *agentStub) LogSettings(context.Context) (map[string]any, error) {
	return map[string]any{"FileSubscriber": map[string]any{}}, nil
}
func (a *agentStub) SetLogLevels(_ context.Context, _ string, nodes map[string]string) error {
	a.nodes = nodes
	return nil
}

func startAgent(t *testing.T) (string, *agentStub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stub := &agentStub{health: control.Health{Status: "ok"}}
	r := server.NewRouter(server.Options{
		Supervisor: stub,
		Classify: func(int) (map[memory.Category]uint64, bool) {
			return map[memory.Category]uint64{memory.Code: 10}, true
		},
	})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, stub
}

func TestRemoteCommands(t *testing.T) {
	url, stub := startAgent(t)

	out, err := execute(t, "status", "--api-url", url)
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "running", st["state"])

	out, err = execute(t, "memory", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"total_kb": 10`)

	_, err = execute(t, "health", "--api-url", url)
	require.NoError(t, err)
	stub.health = control.Health{Status: "bad", Description: "disk full"}
	_, err = execute(t, "health", "--api-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = execute(t, "log-level", "--api-url", url, "FileSubscriber", "Core=warning")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Core": "WARNING"}, stub.nodes)

	out, err = execute(t, "log-level", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "FileSubscriber")
}

func TestRemoteUnreachable(t *testing.T) {
	_, err := execute(t, "status", "--api-url", "http://127.0.0.1:1", "--api-timeout", "500ms")
	assert.Error(t, err)
}
