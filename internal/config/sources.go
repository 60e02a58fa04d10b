package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Sources lists where configuration comes from. Files are merged in order,
// so later files (user, caller) override earlier ones (site).
type Sources struct {
	Files []string
	// Optional: skip files that do not exist instead of failing.
	SkipMissing bool
	// Metadata is the product metadata file; defaults to
	// <app_base>/model/metadata.json.
	Metadata string
	// ProjectDB is the embedded project database; defaults to the first
	// <app_base>/model/*.mdp.
	ProjectDB string
	// Env looks up credentials and emergency overrides; defaults to os.Getenv.
	Env func(string) string
	// Environ is the environment the runtime may inherit from; defaults to
	// os.Environ.
	Environ []string
}

// Emergency environment overrides, applied after files and caller overrides.
const (
	EnvAdminPass      = "RUNVISOR_ADMIN_PASS"
	EnvAdminPort      = "RUNVISOR_ADMIN_PORT"
	EnvRuntimePort    = "RUNVISOR_RUNTIME_PORT"
	EnvRuntimeVersion = "RUNVISOR_RUNTIME_VERSION"
)

func (s Sources) getenv(k string) string {
	if s.Env != nil {
		return s.Env(k)
	}
	return os.Getenv(k)
}

// loadLayers reads every file and merges them with overrides on top.
// It returns the merged tree and the list of files actually read.
func loadLayers(src Sources, overrides map[string]any) (map[string]any, []string, error) {
	merged := make(map[string]any)
	var read []string
	for _, p := range src.Files {
		m, err := readYAML(p)
		if err != nil {
			if src.SkipMissing && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, &ConfigError{Field: p, Err: err}
		}
		Merge(merged, m)
		read = append(read, p)
	}
	if overrides != nil {
		Merge(merged, overrides)
	}
	if err := applyEnvOverrides(merged, src); err != nil {
		return nil, nil, err
	}
	return merged, read, nil
}

func readYAML(path string) (map[string]any, error) {
	// #nosec G304 -- configuration file chosen by the operator
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if len(bytes.TrimSpace(b)) == 0 {
		return m, nil
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return m, nil
}

func applyEnvOverrides(tree map[string]any, src Sources) error {
	sup, _ := asMap(tree["supervisor"])
	if sup == nil {
		sup = make(map[string]any)
	}
	if v := src.getenv(EnvAdminPass); v != "" {
		sup["admin_pass"] = v
	}
	for env, key := range map[string]string{EnvAdminPort: "admin_port", EnvRuntimePort: "runtime_port"} {
		v := src.getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("supervisor."+key, "%s=%q is not a port number", env, v)
		}
		sup[key] = n
	}
	if v := src.getenv(EnvRuntimeVersion); v != "" {
		sup["runtime_version"] = v
	}
	tree["supervisor"] = sup
	return nil
}

// decode converts the merged tree into a Snapshot.
func decode(tree map[string]any) (*Snapshot, error) {
	b, err := yaml.Marshal(tree)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	var s Snapshot
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return &s, nil
}
