package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// startSlack absorbs the clock-tick rounding of /proc start times.
const startSlack = time.Second

// PIDRecord is the content of a pidfile: the pid on the first line and,
// when known, the process start time in Unix milliseconds on the second.
type PIDRecord struct {
	PID       int
	StartedAt time.Time
}

// Matches reports whether a process started at cur can be the recorded
// one. A record or probe without a start time cannot be disproved.
func (rec PIDRecord) Matches(cur time.Time) bool {
	if rec.StartedAt.IsZero() || cur.IsZero() {
		return true
	}
	d := cur.Sub(rec.StartedAt)
	return d <= startSlack && d >= -startSlack
}

// ReadPIDRecord parses a pidfile written by WritePIDFile. A pidfile with
// only a pid is accepted.
func ReadPIDRecord(path string) (PIDRecord, error) {
	// #nosec G304 -- pidfile path comes from configuration
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIDRecord{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return PIDRecord{}, fmt.Errorf("pidfile %s: %w", path, err)
	}
	if pid <= 0 {
		return PIDRecord{}, fmt.Errorf("pidfile %s: invalid pid %d", path, pid)
	}
	rec := PIDRecord{PID: pid}
	if len(lines) > 1 {
		if s := strings.TrimSpace(lines[1]); s != "" {
			ms, err := strconv.ParseInt(s, 10, 64)
			if err != nil || ms <= 0 {
				return PIDRecord{}, fmt.Errorf("pidfile %s: invalid start time %q", path, s)
			}
			rec.StartedAt = time.UnixMilli(ms)
		}
	}
	return rec, nil
}

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	rec, err := ReadPIDRecord(path)
	return rec.PID, err
}

// WritePIDFile records pid and its start time at path, creating the parent
// directory. A zero started writes the pid alone.
func WritePIDFile(path string, pid int, started time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("pidfile dir: %w", err)
	}
	content := strconv.Itoa(pid) + "\n"
	if !started.IsZero() {
		content += strconv.FormatInt(started.UnixMilli(), 10) + "\n"
	}
	return writeFileAtomic(path, []byte(content))
}

// RemovePIDFile deletes path; a missing file is not an error.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
