package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runtime.pid")
	started := time.UnixMilli(1767225600123)
	if err := WritePIDFile(path, 4242, started); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "4242\n1767225600123\n" {
		t.Fatalf("pidfile content = %q", b)
	}
	rec, err := ReadPIDRecord(path)
	if err != nil || rec.PID != 4242 || !rec.StartedAt.Equal(started) {
		t.Fatalf("ReadPIDRecord = %+v, %v", rec, err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
}

func TestPIDFileWithoutStartTime(t *testing.T) {
	dir := t.TempDir()
	written := filepath.Join(dir, "written.pid")
	if err := WritePIDFile(written, 7, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(written); string(b) != "7\n" {
		t.Fatalf("pidfile content = %q", b)
	}
	bare := filepath.Join(dir, "bare.pid")
	if err := os.WriteFile(bare, []byte("7"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{written, bare} {
		rec, err := ReadPIDRecord(p)
		if err != nil || rec.PID != 7 || !rec.StartedAt.IsZero() {
			t.Fatalf("%s: ReadPIDRecord = %+v, %v", p, rec, err)
		}
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"empty":      "",
		"text":       "abc\n",
		"negative":   "-5\n",
		"zero":       "0",
		"bad start":  "12\nyesterday\n",
		"zero start": "12\n0\n",
	} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadPIDFile(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPIDRecordMatches(t *testing.T) {
	at := time.Unix(1767225600, 0)
	rec := PIDRecord{PID: 1, StartedAt: at}
	cases := []struct {
		name string
		rec  PIDRecord
		cur  time.Time
		want bool
	}{
		{"same", rec, at, true},
		{"tick rounding", rec, at.Add(10 * time.Millisecond), true},
		{"reused", rec, at.Add(time.Hour), false},
		{"started earlier", rec, at.Add(-3 * time.Second), false},
		{"unknown current", rec, time.Time{}, true},
		{"unrecorded", PIDRecord{PID: 1}, at, true},
	}
	for _, tc := range cases {
		if got := tc.rec.Matches(tc.cur); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRemovePIDFileMissingIsFine(t *testing.T) {
	if err := RemovePIDFile(filepath.Join(t.TempDir(), "absent.pid")); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if err := RemovePIDFile(""); err != nil {
		t.Fatalf("RemovePIDFile empty: %v", err)
	}
}
