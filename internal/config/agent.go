package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/runvisor/internal/auth"
	"github.com/loykin/runvisor/internal/logger"
	tlsutil "github.com/loykin/runvisor/internal/tls"
	"github.com/spf13/viper"
)

// Agent holds the supervisor's own settings, as opposed to the runtime
// configuration snapshot. It is read with viper from an optional TOML/YAML
// file, RUNVISOR_* environment variables and bound command-line flags.
type Agent struct {
	Files       []string      `mapstructure:"files"`
	SkipMissing bool          `mapstructure:"skip_missing"`
	Overrides   []string      `mapstructure:"set"`
	Leader      bool          `mapstructure:"leader"`
	Log         logger.Config `mapstructure:"log"`
	History     HistoryConfig `mapstructure:"history"`
	Status      StatusConfig  `mapstructure:"status"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Monitor     MonitorConfig `mapstructure:"monitor"`
	Watch       bool          `mapstructure:"watch"`
}

type HistoryConfig struct {
	// DSNs for history sinks; see history/factory for formats.
	DSN []string `mapstructure:"dsn"`
}

type StatusConfig struct {
	Listen   string         `mapstructure:"listen"`
	BasePath string         `mapstructure:"base_path"`
	TLS      tlsutil.Config `mapstructure:"tls"`
	Auth     auth.Config    `mapstructure:"auth"`
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// NewViper returns a viper instance with the agent defaults and environment
// binding applied. Callers bind flags on it before LoadAgent.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RUNVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("files", []string{"/etc/runvisor/site.yaml", "~/.config/runvisor/runtime.yaml"})
	v.SetDefault("skip_missing", true)
	v.SetDefault("set", []string{})
	v.SetDefault("leader", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("status.listen", "")
	v.SetDefault("status.base_path", "")
	v.SetDefault("status.tls.enabled", false)
	v.SetDefault("status.tls.auto_generate", false)
	v.SetDefault("status.auth.enabled", false)
	v.SetDefault("status.auth.token_ttl", time.Hour)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.process_interval", 15*time.Second)
	v.SetDefault("monitor.interval", 5*time.Second)
	v.SetDefault("watch", false)
	return v
}

// LoadAgent reads path (if non-empty) into v and unmarshals the result.
func LoadAgent(v *viper.Viper, path string) (*Agent, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read agent config %s: %w", path, err)
		}
	}
	var a Agent
	if err := v.Unmarshal(&a); err != nil {
		return nil, fmt.Errorf("decode agent config: %w", err)
	}
	for i, f := range a.Files {
		a.Files[i] = expandHome(f)
	}
	return &a, nil
}

// Sources converts the agent settings into resolver sources.
func (a *Agent) Sources() Sources {
	return Sources{Files: a.Files, SkipMissing: a.SkipMissing}
}

// OverrideTree parses the --set expressions into an overrides map.
func (a *Agent) OverrideTree() (map[string]any, error) {
	out := make(map[string]any)
	for _, expr := range a.Overrides {
		if err := ParseOverride(expr, out); err != nil {
			return nil, &ConfigError{Field: "set", Err: err}
		}
	}
	return out, nil
}
