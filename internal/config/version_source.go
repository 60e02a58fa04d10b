package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/loykin/runvisor/internal/version"
	_ "modernc.org/sqlite"
)

var errNoVersion = errors.New("runtime version could not be determined")

// resolveVersion tries, in order: explicit setting, product metadata file,
// embedded project database. The first source that yields a version wins.
func resolveVersion(ctx context.Context, s *Snapshot, src Sources) (version.Version, string, error) {
	if v := s.Supervisor.RuntimeVersion; v != "" {
		pv, err := version.Parse(v)
		if err != nil {
			return version.Version{}, "", invalid("supervisor.runtime_version", "%v", err)
		}
		return pv, "config", nil
	}
	var errs []error
	meta := src.Metadata
	if meta == "" && s.Supervisor.AppBase != "" {
		meta = filepath.Join(s.Supervisor.AppBase, "model", "metadata.json")
	}
	if meta != "" {
		v, err := versionFromMetadata(meta)
		if err == nil {
			return v, "metadata:" + meta, nil
		}
		errs = append(errs, err)
	}
	db := src.ProjectDB
	if db == "" && s.Supervisor.AppBase != "" {
		db = findProjectDB(filepath.Join(s.Supervisor.AppBase, "model"))
	}
	if db != "" {
		v, err := versionFromProjectDB(ctx, db)
		if err == nil {
			return v, "projectdb:" + db, nil
		}
		errs = append(errs, err)
	}
	return version.Version{}, "", errors.Join(append([]error{errNoVersion}, errs...)...)
}

type productMetadata struct {
	RuntimeVersion string `json:"RuntimeVersion"`
}

func versionFromMetadata(path string) (version.Version, error) {
	// #nosec G304 -- lives under the configured app base
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return version.Version{}, err
	}
	var m productMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return version.Version{}, fmt.Errorf("metadata %s: %w", path, err)
	}
	if m.RuntimeVersion == "" {
		return version.Version{}, fmt.Errorf("metadata %s: RuntimeVersion not set", path)
	}
	return version.Parse(m.RuntimeVersion)
}

func findProjectDB(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.mdp"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// versionFromProjectDB reads the product version recorded in the project
// database's metadata table.
func versionFromProjectDB(ctx context.Context, path string) (version.Version, error) {
	if _, err := os.Stat(path); err != nil {
		return version.Version{}, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return version.Version{}, err
	}
	defer func() { _ = db.Close() }()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT _ProductVersion FROM _MetaData LIMIT 1`).Scan(&raw); err != nil {
		return version.Version{}, fmt.Errorf("project db %s: %w", path, err)
	}
	return version.Parse(raw)
}
