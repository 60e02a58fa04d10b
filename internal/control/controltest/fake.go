// Package controltest provides an in-process fake of the runtime admin
// listener for tests.
package controltest

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// Reply is what a handler answers for one action.
type Reply struct {
	Result   int
	Feedback any
	Message  string
	// Hangup closes the connection without writing a response.
	Hangup bool
}

// Handler answers one call; params are the decoded request params.
type Handler func(params map[string]any) Reply

// Server is a fake admin listener. Unknown actions answer result 0 with no
// feedback.
type Server struct {
	*httptest.Server
	Password string

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []string
}

// New starts a fake listener on 127.0.0.1.
func New(password string) *Server {
	s := &Server{Password: password, handlers: make(map[string]Handler)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Handle installs h for action, replacing any previous handler.
func (s *Server) Handle(action string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[action] = h
}

// Reply installs a handler that always answers r.
func (s *Server) Reply(action string, r Reply) {
	s.Handle(action, func(map[string]any) Reply { return r })
}

// Calls returns the actions received so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how often action was called.
func (s *Server) Count(action string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == action {
			n++
		}
	}
	return n
}

// Addr is the host:port of the listener.
func (s *Server) Addr() string {
	return s.Listener.Addr().String()
}

// Port is the listener port.
func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(p)
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	want := base64.StdEncoding.EncodeToString([]byte(s.Password))
	if r.Method != http.MethodPost || r.Header.Get("X-Runtime-Authentication") != want {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 1, "message": "unauthorized"})
		return
	}
	var req struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.calls = append(s.calls, req.Action)
	h := s.handlers[req.Action]
	s.mu.Unlock()

	reply := Reply{}
	if h != nil {
		reply = h(req.Params)
	}
	if reply.Hangup {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":   reply.Result,
		"feedback": reply.Feedback,
		"message":  reply.Message,
	})
}
