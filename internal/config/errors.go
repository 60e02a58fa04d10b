package config

import (
	"errors"
	"fmt"
)

// ErrMissing marks a mandatory field that no source provided.
var ErrMissing = errors.New("missing mandatory field")

// ErrUnsafe marks a credential that equals a known default.
var ErrUnsafe = errors.New("unsafe value")

// ConfigError is fatal: the snapshot cannot be used to launch anything.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func missing(field string) error {
	return &ConfigError{Field: field, Err: ErrMissing}
}

func invalid(field string, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
