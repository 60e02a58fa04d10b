package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/loykin/runvisor/internal/env"
	"github.com/loykin/runvisor/internal/version"
)

// Convention is one of the historically distinct ways the runtime is started.
type Convention int

const (
	ConventionLegacy   Convention = iota // < 5: plain classpath + main class
	ConventionOSGi                       // 5.x and 6.x: felix container
	ConventionLauncher                   // >= 7: runtime launcher jar
)

func (c Convention) String() string {
	switch c {
	case ConventionLegacy:
		return "legacy"
	case ConventionOSGi:
		return "osgi"
	case ConventionLauncher:
		return "launcher"
	default:
		return "unknown"
	}
}

const (
	LegacyMainClass   = "org.runtime.server.RuntimeServer"
	LauncherMainClass = "org.runtime.launcher.RuntimeLauncher"
)

var (
	osgiSince     = version.MustParse("5")
	launcherSince = version.MustParse("7")
)

// ConventionFor picks the startup convention for v.
func ConventionFor(v version.Version) Convention {
	switch {
	case v.AtLeast(launcherSince):
		return ConventionLauncher
	case v.AtLeast(osgiSince):
		return ConventionOSGi
	default:
		return ConventionLegacy
	}
}

// findInstallation scans the candidate repositories in order and returns the
// first writable <repo>/<version>/runtime directory.
func findInstallation(repos []string, v version.Version) (string, error) {
	for _, repo := range repos {
		if repo == "" {
			continue
		}
		dir := filepath.Join(expandHome(repo), v.String(), "runtime")
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			continue
		}
		if writable(dir) {
			return dir, nil
		}
	}
	return "", invalid("supervisor.runtime_repositories", "no writable installation of runtime %s in %v", v, repos)
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".runvisor-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// buildArgs derives the argument vector (excluding the executable).
func buildArgs(s *Snapshot) []string {
	sup := s.Supervisor
	rt := s.RuntimePath
	sep := string(os.PathListSeparator)
	args := append([]string(nil), sup.JavaOpts...)
	switch s.Exec.Convention {
	case ConventionLegacy:
		cp := strings.Join([]string{
			filepath.Join(rt, "server", "*"),
			filepath.Join(rt, "lib", "*"),
		}, sep)
		args = append(args, "-cp", cp, LegacyMainClass)
	case ConventionOSGi:
		props := filepath.Join(sup.AppBase, ".runtime", "felix.properties")
		args = append(args,
			"-Dfelix.config.properties=file:"+filepath.ToSlash(props),
			"-jar", filepath.Join(rt, "felix", "bin", "felix.jar"))
	case ConventionLauncher:
		launcher := filepath.Join(rt, "launcher", "runtimelauncher.jar")
		if sup.Hybrid {
			cp := strings.Join([]string{launcher, filepath.Join(sup.AppBase, "userlib", "*")}, sep)
			args = append(args, "-cp", cp, LauncherMainClass, sup.AppBase)
		} else {
			args = append(args, "-jar", launcher, sup.AppBase)
		}
	}
	return args
}

// searchPath is the configured search_path followed by the parent PATH.
func searchPath(s *Snapshot, src Sources) []string {
	dirs := make([]string, 0, len(s.Supervisor.SearchPath)+8)
	for _, d := range s.Supervisor.SearchPath {
		if d != "" {
			dirs = append(dirs, expandHome(d))
		}
	}
	for _, d := range filepath.SplitList(src.getenv("PATH")) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// lookPath resolves bin against dirs without consulting the process PATH.
func lookPath(bin string, dirs []string) (string, bool) {
	if strings.ContainsRune(bin, os.PathSeparator) || filepath.IsAbs(bin) {
		return bin, isExecutable(bin)
	}
	names := []string{bin}
	if runtime.GOOS == "windows" && filepath.Ext(bin) == "" {
		names = append(names, bin+".exe")
	}
	for _, d := range dirs {
		for _, n := range names {
			p := filepath.Join(d, n)
			if isExecutable(p) {
				return p, true
			}
		}
	}
	return bin, false
}

func isExecutable(p string) bool {
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return st.Mode().Perm()&0o111 != 0
}

// buildEnv composes the runtime environment.
func buildEnv(s *Snapshot, environ []string, dirs []string) []string {
	sup := s.Supervisor
	e := env.New()
	e.Preserve(environ, sup.PreserveEnvironment.All, sup.PreserveEnvironment.Names)
	for k, v := range sup.CustomEnvironment {
		e.Set(k, v)
	}
	e.Derive("RUNTIME_ADMIN_PORT", strconv.Itoa(sup.AdminPort))
	e.Derive("RUNTIME_ADMIN_PASS", sup.AdminPass)
	e.Derive("RUNTIME_PORT", strconv.Itoa(sup.RuntimePort))
	e.Derive("RUNTIME_INSTALL_PATH", s.RuntimePath)
	e.Derive("APP_BASE", sup.AppBase)
	if sup.RuntimeListenAddresses != "" {
		e.Derive("RUNTIME_LISTEN_ADDRESSES", sup.RuntimeListenAddresses)
	}
	e.Derive("PATH", strings.Join(dirs, string(os.PathListSeparator)))
	return e.List()
}

func describeExec(x Exec) string {
	return fmt.Sprintf("%s (%s, %d args)", x.Path, x.Convention, len(x.Args))
}
