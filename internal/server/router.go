package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/runvisor/internal/auth"
	"github.com/loykin/runvisor/internal/control"
	"github.com/loykin/runvisor/internal/logger"
	"github.com/loykin/runvisor/internal/memory"
	"github.com/loykin/runvisor/internal/metrics"
	"github.com/loykin/runvisor/internal/supervisor"
)

// Supervisor is the part of *supervisor.Supervisor the API reads and drives.
type Supervisor interface {
	Status() supervisor.Status
	PID() int
	CheckHealth(ctx context.Context) (control.Health, error)
	LogSettings(ctx context.Context) (map[string]any, error)
	SetLogLevels(ctx context.Context, subscriber string, nodes map[string]string) error
}

// Options configure a Router. Gatherer and Process are optional.
type Options struct {
	BasePath   string
	Supervisor Supervisor
	Gatherer   prometheus.Gatherer
	Process    *metrics.ProcessCollector
	Logger     *slog.Logger
	// Auth guards every endpoint when set; POST endpoints need write.
	Auth *auth.Middleware
	// Classify defaults to memory.Classify.
	Classify func(pid int) (map[memory.Category]uint64, bool)
}

// Router provides the agent's status API.
// Endpoints:
//
//	GET  {basePath}/status            supervisor state and pid
//	GET  {basePath}/health            runtime self-assessment; 503 unless healthy
//	GET  {basePath}/memory            resident memory by category
//	GET  {basePath}/log-level         current log subscribers and levels
//	POST {basePath}/log-level         body: {"subscriber": "...", "nodes": {"Core": "DEBUG"}}
//	GET  {basePath}/metrics           Prometheus exposition (when a gatherer is set)
//	GET  {basePath}/metrics/process   sampled CPU/memory history (when sampling is on)
//	POST {basePath}/auth/token        body: {"username": "...", "password": "..."} (when auth is on)
type Router struct {
	opts     Options
	basePath string
	log      *slog.Logger
}

func NewRouter(opts Options) *Router {
	if opts.Classify == nil {
		opts.Classify = memory.Classify
	}
	return &Router{
		opts:     opts,
		basePath: sanitizeBase(opts.BasePath),
		log:      logger.OrDiscard(opts.Logger).With("component", "server"),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	read, write := []gin.HandlerFunc{}, []gin.HandlerFunc{}
	if m := r.opts.Auth; m != nil {
		group.POST("/auth/token", r.handleToken)
		read = append(read, m.GinAuth(), m.GinRequirePermission(auth.ActionRead))
		write = append(write, m.GinAuth(), m.GinRequirePermission(auth.ActionWrite))
	}
	with := func(chain []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, chain...), h)
	}

	group.GET("/status", with(read, r.handleStatus)...)
	group.GET("/health", with(read, r.handleHealth)...)
	group.GET("/memory", with(read, r.handleMemory)...)
	group.GET("/log-level", with(read, r.handleGetLogLevel)...)
	group.POST("/log-level", with(write, r.handleSetLogLevel)...)
	if r.opts.Gatherer != nil {
		group.GET("/metrics", with(read, gin.WrapH(metrics.HandlerFor(r.opts.Gatherer)))...)
	}
	if r.opts.Process != nil && r.opts.Process.IsEnabled() {
		group.GET("/metrics/process", with(read, r.handleProcessMetrics)...)
	}
	return g
}

// NewServer starts serving the router on addr in the background. tlsCfg
// may be nil. Serve errors other than a normal close are logged.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("status server stopped", "addr", server.Addr, "error", err)
		}
	}()
	r.log.Info("status server listening", "addr", server.Addr, "tls", tlsCfg != nil)
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.opts.Supervisor.Status())
}

// runtimeError maps supervisor and control errors onto HTTP codes.
func (r *Router) runtimeError(c *gin.Context, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, supervisor.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	r.log.Debug("runtime call failed", "path", c.FullPath(), "error", err)
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (r *Router) handleHealth(c *gin.Context) {
	h, err := r.opts.Supervisor.CheckHealth(c.Request.Context())
	if err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
			return
		}
		r.runtimeError(c, err)
		return
	}
	code := http.StatusOK
	if !h.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, h)
}

type memoryResp struct {
	PID        int                        `json:"pid"`
	Categories map[memory.Category]uint64 `json:"categories_kb"`
	TotalKB    uint64                     `json:"total_kb"`
}

func (r *Router) handleMemory(c *gin.Context) {
	pid := r.opts.Supervisor.PID()
	if pid <= 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no runtime process"})
		return
	}
	cats, ok := r.opts.Classify(pid)
	if !ok {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "memory map not available for this process"})
		return
	}
	var total uint64
	for _, v := range cats {
		total += v
	}
	writeJSON(c, http.StatusOK, memoryResp{PID: pid, Categories: cats, TotalKB: total})
}

func (r *Router) handleGetLogLevel(c *gin.Context) {
	settings, err := r.opts.Supervisor.LogSettings(c.Request.Context())
	if err != nil {
		r.runtimeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, settings)
}

type logLevelReq struct {
	Subscriber string            `json:"subscriber"`
	Nodes      map[string]string `json:"nodes"`
}

func (r *Router) handleSetLogLevel(c *gin.Context) {
	var req logLevelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.Subscriber) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid subscriber: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	if len(req.Nodes) == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "nodes required"})
		return
	}
	nodes := make(map[string]string, len(req.Nodes))
	for node, level := range req.Nodes {
		if !isSafeName(node) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid node name " + node})
			return
		}
		l, ok := normalizeLevel(level)
		if !ok {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid level " + level + " for node " + node})
			return
		}
		nodes[node] = l
	}
	if err := r.opts.Supervisor.SetLogLevels(c.Request.Context(), req.Subscriber, nodes); err != nil {
		r.runtimeError(c, err)
		return
	}
	r.log.Info("log levels changed", "subscriber", req.Subscriber, "nodes", nodes)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleProcessMetrics(c *gin.Context) {
	if c.Query("history") != "" {
		writeJSON(c, http.StatusOK, r.opts.Process.History())
		return
	}
	m, ok := r.opts.Process.Latest()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no samples yet"})
		return
	}
	writeJSON(c, http.StatusOK, m)
}

type tokenReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *Router) handleToken(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res, err := r.opts.Auth.Service().Authenticate(c.Request.Context(), auth.LoginRequest{
		Method:   auth.AuthMethodBasic,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil || !res.Success {
		r.log.Warn("status API login rejected", "username", req.Username, "remote", c.ClientIP())
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
		return
	}
	writeJSON(c, http.StatusOK, res.Token)
}
