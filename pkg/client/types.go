package client

import (
	"fmt"
	"time"
)

// Status mirrors GET /status.
type Status struct {
	State       string    `json:"state"`
	PID         int       `json:"pid"`
	PIDFile     string    `json:"pidfile,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Up          bool      `json:"up"`
	Attempts    int       `json:"schema_sync_attempts,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Health mirrors GET /health.
type Health struct {
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

func (h Health) Healthy() bool { return h.Status == "ok" }

// Memory mirrors GET /memory; values are kB.
type Memory struct {
	PID        int               `json:"pid"`
	Categories map[string]uint64 `json:"categories_kb"`
	TotalKB    uint64            `json:"total_kb"`
}

// LogLevelRequest is the body of POST /log-level.
type LogLevelRequest struct {
	Subscriber string            `json:"subscriber"`
	Nodes      map[string]string `json:"nodes"`
}

// Token is a bearer token from POST /auth/token.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx answer from the status API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}
