package control

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// Action names understood by the runtime's admin listener.
const (
	ActionPing                  = "ping"
	ActionEcho                  = "echo"
	ActionRuntimeStatus         = "runtime_status"
	ActionUpdateAppContainerCfg = "update_app_container_configuration"
	ActionUpdateConfiguration   = "update_configuration"
	ActionStart                 = "start"
	ActionGetDDLCommands        = "get_ddl_commands"
	ActionExecuteDDLCommands    = "execute_ddl_commands"
	ActionShutdown              = "shutdown"
	ActionCreateLogSubscriber   = "create_log_subscriber"
	ActionSetLogLevel           = "set_log_level"
	ActionGetLogSettings        = "get_log_settings"
	ActionEnableDebugger        = "enable_debugger"
	ActionDisableDebugger       = "disable_debugger"
	ActionCheckHealth           = "check_health"
	ActionAbout                 = "about"
	ActionRuntimeStatistics     = "runtime_statistics"
	ActionServerStatistics      = "server_statistics"
)

// Ping reports whether the admin listener answers. Every failure, including
// refused connections, timeouts and garbage bodies, is reported as false.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) bool {
	r, err := c.Call(ctx, ActionPing, nil, timeout)
	if err != nil {
		c.log.Debug("ping failed", "error", err)
		return false
	}
	return r.OK()
}

// Echo round-trips a token through the runtime; lossy like Ping.
func (c *Client) Echo(ctx context.Context, timeout time.Duration) bool {
	const token = "ping"
	r, err := c.Call(ctx, ActionEcho, map[string]any{"echo": token}, timeout)
	if err != nil || !r.OK() {
		return false
	}
	var fb struct {
		Echo string `json:"echo"`
	}
	if err := r.Decode(&fb); err != nil {
		return false
	}
	return fb.Echo == token
}

// Runtime bootstrap states reported by RuntimeStatus.
const (
	StatusCreated  = "created"
	StatusStarting = "starting"
	StatusRunning  = "running"
)

// RuntimeStatus returns the runtime's internal bootstrap state.
func (c *Client) RuntimeStatus(ctx context.Context) (string, error) {
	r, err := c.invoke(ctx, ActionRuntimeStatus, nil)
	if err != nil {
		return "", err
	}
	var fb struct {
		Status string `json:"status"`
	}
	if err := r.Decode(&fb); err != nil {
		return "", err
	}
	return fb.Status, nil
}

// UpdateAppContainerConfiguration pushes process-level settings the runtime
// needs before it can start its application container.
func (c *Client) UpdateAppContainerConfiguration(ctx context.Context, params map[string]any) error {
	_, err := c.invoke(ctx, ActionUpdateAppContainerCfg, params)
	return err
}

// UpdateConfiguration pushes the runtime section verbatim.
func (c *Client) UpdateConfiguration(ctx context.Context, params map[string]any) error {
	_, err := c.invoke(ctx, ActionUpdateConfiguration, params)
	return err
}

// Start asks the runtime to start its application. Transport and protocol
// failures are errors; every result code maps onto a StartOutcome.
func (c *Client) Start(ctx context.Context) (StartOutcome, *Response, error) {
	r, err := c.Call(ctx, ActionStart, nil, 0)
	if err != nil {
		return nil, nil, err
	}
	return StartOutcomeOf(r.Result), r, nil
}

// GetDDLCommands lists the schema statements the leader would execute.
func (c *Client) GetDDLCommands(ctx context.Context) ([]string, error) {
	r, err := c.invoke(ctx, ActionGetDDLCommands, nil)
	if err != nil {
		return nil, err
	}
	var fb struct {
		Commands []string `json:"commands"`
	}
	if err := r.Decode(&fb); err != nil {
		return nil, err
	}
	return fb.Commands, nil
}

func (c *Client) ExecuteDDLCommands(ctx context.Context) error {
	_, err := c.invoke(ctx, ActionExecuteDDLCommands, nil)
	return err
}

// Shutdown asks the runtime to exit. The runtime may drop the connection
// while tearing down; that counts as success.
func (c *Client) Shutdown(ctx context.Context, timeout time.Duration) error {
	r, err := c.Call(ctx, ActionShutdown, nil, timeout)
	if err != nil {
		if droppedMidCall(err) {
			c.log.Debug("runtime closed the connection during shutdown", "error", err)
			return nil
		}
		return err
	}
	return r.Err()
}

func droppedMidCall(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}

// CreateLogSubscriber registers one entry of the logging list.
func (c *Client) CreateLogSubscriber(ctx context.Context, sub map[string]any) error {
	_, err := c.invoke(ctx, ActionCreateLogSubscriber, sub)
	return err
}

// SetLogLevel changes per-node levels of one subscriber.
func (c *Client) SetLogLevel(ctx context.Context, subscriber string, nodes map[string]string) error {
	_, err := c.invoke(ctx, ActionSetLogLevel, map[string]any{"subscriber": subscriber, "nodes": nodes})
	return err
}

func (c *Client) GetLogSettings(ctx context.Context) (map[string]any, error) {
	r, err := c.invoke(ctx, ActionGetLogSettings, nil)
	if err != nil {
		return nil, err
	}
	return r.FeedbackMap(), nil
}

func (c *Client) EnableDebugger(ctx context.Context, password string) error {
	_, err := c.invoke(ctx, ActionEnableDebugger, map[string]any{"password": password})
	return err
}

func (c *Client) DisableDebugger(ctx context.Context) error {
	_, err := c.invoke(ctx, ActionDisableDebugger, nil)
	return err
}

// Health is the runtime's self-assessment.
type Health struct {
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

func (h Health) Healthy() bool { return h.Status == "ok" }

func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	r, err := c.invoke(ctx, ActionCheckHealth, nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := r.Decode(&h); err != nil {
		return Health{}, err
	}
	return h, nil
}

func (c *Client) About(ctx context.Context) (map[string]any, error) {
	return c.feedback(ctx, ActionAbout)
}

func (c *Client) RuntimeStatistics(ctx context.Context) (map[string]any, error) {
	return c.feedback(ctx, ActionRuntimeStatistics)
}

func (c *Client) ServerStatistics(ctx context.Context) (map[string]any, error) {
	return c.feedback(ctx, ActionServerStatistics)
}

func (c *Client) feedback(ctx context.Context, action string) (map[string]any, error) {
	r, err := c.invoke(ctx, action, nil)
	if err != nil {
		return nil, err
	}
	return r.FeedbackMap(), nil
}
