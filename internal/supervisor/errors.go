package supervisor

import (
	"errors"
	"fmt"

	"github.com/loykin/runvisor/internal/control"
)

var (
	// ErrAlreadyRunning is returned by Start when the pidfile names a live process.
	ErrAlreadyRunning = errors.New("runtime is already running")
	// ErrNotRunning is returned by steady-state operations outside Running.
	ErrNotRunning = errors.New("runtime is not running")
)

// AbortError reports why Start ended in Aborted.
type AbortError struct {
	// State is the state the machine was in when it gave up.
	State  State
	Reason string
	// Outcome is set when the start action's result caused the abort.
	Outcome control.StartOutcome
	Err     error
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("start aborted in %s: %s", e.State, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() error { return e.Err }
