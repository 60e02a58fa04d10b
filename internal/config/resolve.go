package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/loykin/runvisor/internal/logger"
)

// Resolve merges src and overrides into a validated snapshot and derives the
// launch description. Any error is a *ConfigError and is fatal for the caller.
func Resolve(ctx context.Context, src Sources, overrides map[string]any, log *slog.Logger) (*Snapshot, error) {
	log = logger.OrDiscard(log)
	tree, files, err := loadLayers(src, overrides)
	if err != nil {
		return nil, err
	}
	s, err := decode(tree)
	if err != nil {
		return nil, err
	}
	s.Files = files
	applyDefaults(s)
	if err := validate(s); err != nil {
		return nil, err
	}

	v, from, err := resolveVersion(ctx, s, src)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &ConfigError{Field: "runtime_version", Err: err}
	}
	s.RuntimeVersion, s.VersionSource = v, from
	s.Exec.Convention = ConventionFor(v)

	repos := append(slices.Clone(s.Supervisor.RuntimeRepositories), filepath.Join(s.Supervisor.AppBase, "runtimes"))
	rt, err := findInstallation(repos, v)
	if err != nil {
		return nil, err
	}
	s.RuntimePath = rt

	dirs := searchPath(s, src)
	s.Exec.SearchPath = dirs
	s.Exec.Path, s.Exec.Resolved = lookPath(s.Supervisor.JavaBin, dirs)
	s.Exec.Args = buildArgs(s)
	s.Exec.Env = buildEnv(s, environ(src), dirs)

	if !s.Exec.Resolved {
		log.Warn("runtime executable not found on search path; launch will fail",
			"java_bin", s.Supervisor.JavaBin, "search_path", strings.Join(dirs, string(os.PathListSeparator)))
	}
	log.Debug("configuration resolved",
		"files", files, "version", v.String(), "version_source", from,
		"runtime", rt, "exec", describeExec(s.Exec))

	if s.normalizePermissions() {
		NormalizePermissions(s.Supervisor.AppBase, log)
	}
	return s, nil
}

func environ(src Sources) []string {
	if src.Environ != nil {
		return src.Environ
	}
	return os.Environ()
}

func applyDefaults(s *Snapshot) {
	sup := &s.Supervisor
	if sup.RuntimePort == 0 {
		sup.RuntimePort = DefaultRuntimePort
	}
	if sup.JavaBin == "" {
		sup.JavaBin = DefaultJavaBin
	}
	if sup.PIDFile == "" {
		sup.PIDFile = DefaultPIDFile()
	}
	if sup.AppBase != "" {
		sup.AppBase = filepath.Clean(expandHome(sup.AppBase))
	}
}

// DefaultPIDFile lives under the per-user state directory.
func DefaultPIDFile() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "runvisor", "runtime.pid")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "runvisor", "runtime.pid")
	}
	return filepath.Join(os.TempDir(), "runvisor", "runtime.pid")
}

func validate(s *Snapshot) error {
	sup := s.Supervisor
	if strings.TrimSpace(sup.AppBase) == "" {
		return missing("supervisor.app_base")
	}
	if sup.AdminPort == 0 {
		return missing("supervisor.admin_port")
	}
	if sup.AdminPort < 0 || sup.AdminPort > 65535 {
		return invalid("supervisor.admin_port", "%d out of range", sup.AdminPort)
	}
	if sup.RuntimePort < 0 || sup.RuntimePort > 65535 {
		return invalid("supervisor.runtime_port", "%d out of range", sup.RuntimePort)
	}
	if sup.AdminPass == "" {
		return missing("supervisor.admin_pass")
	}
	if slices.Contains(unsafePasswords, strings.ToLower(sup.AdminPass)) {
		return &ConfigError{Field: "supervisor.admin_pass", Err: ErrUnsafe}
	}
	for i, sub := range s.Logging {
		if sub.Type == "" || sub.Name == "" {
			return invalid("logging", "subscriber %d needs type and name", i)
		}
	}
	return nil
}

func (s *Snapshot) normalizePermissions() bool {
	return s.Supervisor.NormalizePermissions == nil || *s.Supervisor.NormalizePermissions
}
