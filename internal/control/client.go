package control

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/runvisor/internal/logger"
)

// AuthHeader carries the base64-encoded shared admin credential.
const AuthHeader = "X-Runtime-Authentication"

// DefaultTimeout bounds a call when neither the caller nor Config sets one.
const DefaultTimeout = 30 * time.Second

// Observer receives one notification per completed call. outcome is "ok",
// "result" (non-zero code), "transport" or "malformed".
type Observer interface {
	ObserveCall(action, outcome string, d time.Duration)
}

// Config holds client configuration
type Config struct {
	Addr     string // host:port of the admin listener
	Password string
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
	// HTTPClient is optional; its Timeout is ignored in favour of per-call
	// deadlines.
	HTTPClient *http.Client
}

// Client talks to the runtime's admin port. It is safe for concurrent use,
// but callers are expected to issue one call at a time per runtime.
type Client struct {
	url     string
	auth    string
	timeout time.Duration
	http    *http.Client
	log     *slog.Logger
	obs     Observer
}

// Response is the runtime's answer to a single action.
type Response struct {
	Result     int             `json:"result"`
	Feedback   json.RawMessage `json:"feedback,omitempty"`
	Message    string          `json:"message,omitempty"`
	Cause      string          `json:"cause,omitempty"`
	Stacktrace string          `json:"stacktrace,omitempty"`

	action string
}

// OK reports a zero result code.
func (r *Response) OK() bool { return r.Result == 0 }

// Err returns a *ResultError for non-zero codes.
func (r *Response) Err() error {
	if r.Result == 0 {
		return nil
	}
	return &ResultError{Action: r.action, Result: r.Result, Message: r.Message, Cause: r.Cause}
}

// Decode unmarshals the feedback into v. Absent feedback leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(r.Feedback) == 0 || string(r.Feedback) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Feedback, v); err != nil {
		return fmt.Errorf("%w: %s feedback: %v", ErrMalformedResponse, r.action, err)
	}
	return nil
}

// FeedbackMap returns the feedback as a generic object, or nil.
func (r *Response) FeedbackMap() map[string]any {
	var m map[string]any
	if err := r.Decode(&m); err != nil {
		return nil
	}
	return m
}

type request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// Fresh connection per call; the runtime restarts under us.
		hc = &http.Client{Transport: &http.Transport{DisableKeepAlives: true, Proxy: nil}}
	}
	return &Client{
		url:     "http://" + cfg.Addr + "/",
		auth:    base64.StdEncoding.EncodeToString([]byte(cfg.Password)),
		timeout: cfg.Timeout,
		http:    hc,
		log:     logger.OrDiscard(cfg.Logger).With("component", "control"),
		obs:     cfg.Observer,
	}
}

// Call performs exactly one request/response exchange. A non-zero result is
// not an error here; inspect Response.Err. timeout <= 0 uses the client
// default.
func (c *Client) Call(ctx context.Context, action string, params map[string]any, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if params == nil {
		params = map[string]any{}
	}
	start := time.Now()
	resp, err := c.do(ctx, action, params, timeout)
	c.observe(action, resp, err, time.Since(start))
	return resp, err
}

func (c *Client) do(ctx context.Context, action string, params map[string]any, timeout time.Duration) (*Response, error) {
	body, err := json.Marshal(request{Action: action, Params: params})
	if err != nil {
		return nil, fmt.Errorf("control %s: marshal params: %w", action, err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("control %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AuthHeader, c.auth)

	c.log.Debug("control call", "action", action)
	hr, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	defer func() { _ = hr.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(hr.Body, 16<<20))
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: http %d: %v", ErrMalformedResponse, action, hr.StatusCode, err)
	}
	r.action = action
	if !r.OK() {
		c.log.Debug("control call returned non-zero result", "action", action, "result", r.Result, "message", r.Message)
	}
	return &r, nil
}

func (c *Client) observe(action string, resp *Response, err error, d time.Duration) {
	if c.obs == nil {
		return
	}
	outcome := "ok"
	var te *TransportError
	switch {
	case errors.As(err, &te):
		outcome = "transport"
	case errors.Is(err, ErrMalformedResponse):
		outcome = "malformed"
	case err != nil:
		outcome = "error"
	case !resp.OK():
		outcome = "result"
	}
	c.obs.ObserveCall(action, outcome, d)
}

// invoke is Call followed by Response.Err, for wrappers where any non-zero
// code is a failure.
func (c *Client) invoke(ctx context.Context, action string, params map[string]any) (*Response, error) {
	r, err := c.Call(ctx, action, params, 0)
	if err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return r, err
	}
	return r, nil
}
