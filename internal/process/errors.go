package process

import (
	"errors"
	"fmt"
)

var (
	// ErrExitedBeforeReady means the runtime died before its admin port
	// answered.
	ErrExitedBeforeReady = errors.New("runtime exited before becoming ready")
	// ErrReadyTimeout means the runtime is alive but never answered within
	// the start timeout.
	ErrReadyTimeout = errors.New("runtime did not become ready in time")
)

// LaunchError is an OS-level failure to start the executable.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v; check supervisor.search_path, supervisor.java_bin and supervisor.preserve_environment", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
