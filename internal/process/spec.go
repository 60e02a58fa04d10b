package process

import (
	"errors"
	"fmt"
)

// LaunchSpec describes the managed executable. It crosses the helper
// boundary as JSON, so every field must be serializable.
type LaunchSpec struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
	Env  []string `json:"env"`
	// Dir is the working directory of the runtime; "/" when empty.
	Dir string `json:"dir,omitempty"`
	// Output receives the runtime's stdout and stderr; discarded when empty.
	Output string `json:"output,omitempty"`
}

var errNoPath = errors.New("launch spec has no executable path")

func (s LaunchSpec) validate() error {
	if s.Path == "" {
		return errNoPath
	}
	return nil
}

func (s LaunchSpec) String() string {
	return fmt.Sprintf("%s (%d args)", s.Path, len(s.Args))
}
