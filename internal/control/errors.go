package control

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse means the runtime answered with a body that is not a
// control response.
var ErrMalformedResponse = errors.New("malformed control response")

// TransportError wraps a failure to complete the HTTP exchange (refused,
// timed out, reset). It says nothing about the runtime's view of the action.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("control %s: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResultError is a non-zero result code. The code's meaning depends on the
// action that produced it.
type ResultError struct {
	Action  string
	Result  int
	Message string
	Cause   string
}

func (e *ResultError) Error() string {
	msg := fmt.Sprintf("control %s: result %d", e.Action, e.Result)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != "" {
		msg += " (cause: " + e.Cause + ")"
	}
	return msg
}
