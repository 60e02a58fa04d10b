package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/runvisor/internal/logger"
)

// managedDirs are the app-base subdirectories whose permissions the runtime
// relies on. The data/* ones are created when absent.
var managedDirs = []struct {
	rel    string
	create bool
}{
	{"model", false},
	{"web", false},
	{".runtime", true},
	{filepath.Join("data", "files"), true},
	{filepath.Join("data", "tmp"), true},
	{filepath.Join("data", "model-upload"), true},
}

// NormalizePermissions is best-effort: failures are logged and skipped.
func NormalizePermissions(appBase string, log *slog.Logger) {
	log = logger.OrDiscard(log)
	for _, d := range managedDirs {
		p := filepath.Join(appBase, d.rel)
		if d.create {
			if err := os.MkdirAll(p, 0o750); err != nil {
				log.Warn("cannot create runtime directory", "path", p, "error", err)
				continue
			}
		}
		st, err := os.Stat(p)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warn("cannot stat runtime directory", "path", p, "error", err)
			}
			continue
		}
		if !st.IsDir() {
			log.Warn("expected a directory", "path", p)
			continue
		}
		if st.Mode().Perm() == 0o750 {
			continue
		}
		if err := os.Chmod(p, 0o750); err != nil {
			log.Warn("cannot normalize permissions", "path", p, "error", err)
		}
	}
}
