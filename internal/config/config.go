package config

import (
	"fmt"
	"time"

	"github.com/loykin/runvisor/internal/version"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a source leaves the field unset.
const (
	DefaultRuntimePort        = 8080
	DefaultJavaBin            = "java"
	DefaultStartTimeout       = 60 // seconds
	DefaultShutdownTimeout    = 10 // seconds
	DefaultControlTimeout     = 30 // seconds
	DefaultSchemaSyncInterval = 10 // seconds
	DefaultSchemaSyncAttempts = 120
)

// unsafePasswords are credentials that ship in sample configs and must never
// protect a real admin port.
var unsafePasswords = []string{"password", "admin", "changeme", "1", "secret"}

// Snapshot is one resolved, validated configuration. It is never mutated
// after Resolve returns; a reload produces a new Snapshot.
type Snapshot struct {
	Supervisor SupervisorOptions `yaml:"supervisor"`
	Control    ControlOptions    `yaml:"control"`
	Runtime    map[string]any    `yaml:"runtime"`
	Logging    []LogSubscriber   `yaml:"logging"`

	// Derived fields.
	RuntimeVersion version.Version `yaml:"-"`
	VersionSource  string          `yaml:"-"`
	RuntimePath    string          `yaml:"-"`
	Exec           Exec            `yaml:"-"`
	Files          []string        `yaml:"-"`
}

// SupervisorOptions are the process options.
type SupervisorOptions struct {
	AppBase                string            `yaml:"app_base"`
	AdminPort              int               `yaml:"admin_port"`
	AdminPass              string            `yaml:"admin_pass"`
	RuntimePort            int               `yaml:"runtime_port"`
	RuntimeListenAddresses string            `yaml:"runtime_listen_addresses"`
	PIDFile                string            `yaml:"pidfile"`
	JavaBin                string            `yaml:"java_bin"`
	JavaOpts               []string          `yaml:"java_opts"`
	SearchPath             []string          `yaml:"search_path"`
	RuntimeVersion         string            `yaml:"runtime_version"`
	RuntimeRepositories    []string          `yaml:"runtime_repositories"`
	Hybrid                 bool              `yaml:"hybrid"`
	PreserveEnvironment    PreserveEnv       `yaml:"preserve_environment"`
	CustomEnvironment      map[string]string `yaml:"custom_environment"`
	StartTimeout           int               `yaml:"start_timeout"`
	ShutdownTimeout        int               `yaml:"shutdown_timeout"`
	StdoutLog              string            `yaml:"stdout_log"`
	NormalizePermissions   *bool             `yaml:"normalize_permissions"`
}

// ControlOptions configure the control-protocol client and retry policy.
type ControlOptions struct {
	Timeout               int `yaml:"timeout"`
	SchemaSyncInterval    int `yaml:"schema_sync_interval"`
	SchemaSyncMaxAttempts int `yaml:"schema_sync_max_attempts"`
}

// LogSubscriber is one entry of the logging list. Keys other than the common
// ones are passed to the runtime untouched.
type LogSubscriber struct {
	Type          string            `yaml:"type"`
	Name          string            `yaml:"name"`
	AutoSubscribe string            `yaml:"autosubscribe"`
	Nodes         map[string]string `yaml:"nodes"`
	Extra         map[string]any    `yaml:",inline"`
}

// PreserveEnv is either a boolean (keep everything / nothing) or a list of
// variable names to keep.
type PreserveEnv struct {
	All   bool
	Names []string
}

func (p *PreserveEnv) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := n.Decode(&b); err != nil {
			return fmt.Errorf("preserve_environment: want bool or list: %w", err)
		}
		p.All, p.Names = b, nil
		return nil
	case yaml.SequenceNode:
		p.All = false
		return n.Decode(&p.Names)
	default:
		return fmt.Errorf("preserve_environment: want bool or list, line %d", n.Line)
	}
}

// Exec is the derived launch description of the managed runtime.
type Exec struct {
	Path       string
	Resolved   bool // Path was found on the search path
	Args       []string
	Env        []string
	SearchPath []string
	Convention Convention
}

// StartTimeout returns the readiness bound for a launch.
func (s *Snapshot) StartTimeout() time.Duration {
	return seconds(s.Supervisor.StartTimeout, DefaultStartTimeout)
}

// ShutdownTimeout returns the per-stage bound used when stopping.
func (s *Snapshot) ShutdownTimeout() time.Duration {
	return seconds(s.Supervisor.ShutdownTimeout, DefaultShutdownTimeout)
}

// ControlTimeout bounds each control-plane call.
func (s *Snapshot) ControlTimeout() time.Duration {
	return seconds(s.Control.Timeout, DefaultControlTimeout)
}

// SchemaSyncInterval is how long a non-leader waits before reissuing start.
func (s *Snapshot) SchemaSyncInterval() time.Duration {
	return seconds(s.Control.SchemaSyncInterval, DefaultSchemaSyncInterval)
}

// SchemaSyncMaxAttempts caps how often start is reissued after a schema
// out-of-sync result.
func (s *Snapshot) SchemaSyncMaxAttempts() int {
	if s.Control.SchemaSyncMaxAttempts <= 0 {
		return DefaultSchemaSyncAttempts
	}
	return s.Control.SchemaSyncMaxAttempts
}

// AdminAddr is the control-plane address; the runtime only listens locally.
func (s *Snapshot) AdminAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.Supervisor.AdminPort)
}

// BehaviorChanged lists the behavioral fields that differ between s and next.
// A non-empty result means next cannot be applied without a full reload.
func (s *Snapshot) BehaviorChanged(next *Snapshot) []string {
	var changed []string
	if s.Supervisor.AppBase != next.Supervisor.AppBase {
		changed = append(changed, "supervisor.app_base")
	}
	if s.Supervisor.AdminPort != next.Supervisor.AdminPort {
		changed = append(changed, "supervisor.admin_port")
	}
	if s.Supervisor.RuntimePort != next.Supervisor.RuntimePort {
		changed = append(changed, "supervisor.runtime_port")
	}
	if s.Supervisor.PIDFile != next.Supervisor.PIDFile {
		changed = append(changed, "supervisor.pidfile")
	}
	return changed
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
