// Package fakeruntime turns a test binary into a stand-in for the managed
// runtime. Tests launch their own executable with Env(...) and call
// RunIfRequested from TestMain.
package fakeruntime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	EnvEnable       = "FAKERUNTIME"
	EnvMode         = "FAKERUNTIME_MODE"
	EnvStartResult  = "FAKERUNTIME_START_RESULT"
	EnvStatus       = "FAKERUNTIME_STATUS"
	EnvReport       = "FAKERUNTIME_REPORT"
	EnvReadyAfter   = "FAKERUNTIME_READY_AFTER"
	envAdminPort    = "RUNTIME_ADMIN_PORT"
	envAdminPass    = "RUNTIME_ADMIN_PASS"
	ModeServe       = "serve"    // answer the control protocol
	ModeSleep       = "sleep"    // stay alive, never listen
	ModeExit        = "exit"     // exit at once
	ModeStubborn    = "stubborn" // ignore SIGTERM
	shutdownLinger  = 50 * time.Millisecond
	maxLifetime     = 2 * time.Minute
	reportFilePerms = 0o600
)

// Env returns the environment entries that make a launched test binary act
// as the runtime in the given mode.
func Env(mode string, extra ...string) []string {
	return append([]string{EnvEnable + "=1", EnvMode + "=" + mode}, extra...)
}

// Report is written to EnvReport (when set) once the fake is up.
type Report struct {
	PID int    `json:"pid"`
	Cwd string `json:"cwd"`
}

// RunIfRequested never returns when EnvEnable is set.
func RunIfRequested() {
	if os.Getenv(EnvEnable) != "1" {
		return
	}
	os.Exit(run())
}

func run() int {
	mode := os.Getenv(EnvMode)
	if mode == ModeStubborn {
		signal.Ignore(syscall.SIGTERM)
	}
	writeReport()
	switch mode {
	case ModeExit:
		return 3
	case ModeSleep:
		time.Sleep(maxLifetime)
		return 0
	case ModeStubborn:
		time.Sleep(maxLifetime)
		return 0
	default:
		return serve()
	}
}

func writeReport() {
	path := os.Getenv(EnvReport)
	if path == "" {
		return
	}
	cwd, _ := os.Getwd()
	b, _ := json.Marshal(Report{PID: os.Getpid(), Cwd: cwd})
	_ = os.WriteFile(path, b, reportFilePerms)
}

func serve() int {
	if d, err := time.ParseDuration(os.Getenv(EnvReadyAfter)); err == nil {
		time.Sleep(d)
	}
	addr := net.JoinHostPort("127.0.0.1", os.Getenv(envAdminPort))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fakeruntime:", err)
		return 1
	}
	done := make(chan struct{})
	srv := &http.Server{Handler: handler(done), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(l) }()

	select {
	case <-done:
		time.Sleep(shutdownLinger)
	case <-time.After(maxLifetime):
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return 0
}

func handler(done chan struct{}) http.Handler {
	auth := base64.StdEncoding.EncodeToString([]byte(os.Getenv(envAdminPass)))
	status := os.Getenv(EnvStatus)
	if status == "" {
		status = "created"
	}
	startResult, _ := strconv.Atoi(os.Getenv(EnvStartResult))
	var mu sync.Mutex
	running := false
	closed := false

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Runtime-Authentication") != auth {
			reply(w, 1, nil, "unauthorized")
			return
		}
		var req struct {
			Action string         `json:"action"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reply(w, 1, nil, err.Error())
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch req.Action {
		case "runtime_status":
			st := status
			if running {
				st = "running"
			}
			reply(w, 0, map[string]any{"status": st}, "")
		case "start":
			if startResult == 0 {
				running = true
			}
			reply(w, startResult, nil, "")
		case "echo":
			reply(w, 0, map[string]any{"echo": req.Params["echo"]}, "")
		case "check_health":
			reply(w, 0, map[string]any{"status": "ok"}, "")
		case "shutdown":
			reply(w, 0, nil, "")
			if !closed {
				closed = true
				close(done)
			}
		default:
			reply(w, 0, nil, "")
		}
	})
}

func reply(w http.ResponseWriter, result int, feedback any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "feedback": feedback, "message": msg})
}
