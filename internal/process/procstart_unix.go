//go:build !windows

package process

import (
	"runtime"
	"time"

	"github.com/prometheus/procfs"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// startTime returns when pid was started, or the zero time when unknown.
func startTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	if runtime.GOOS == "linux" {
		return startTimeLinux(pid)
	}
	// Darwin/BSD: gopsutil uses sysctl under the hood
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func startTimeLinux(pid int) time.Time {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return time.Time{}
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return time.Time{}
	}
	st, err := p.Stat()
	if err != nil {
		return time.Time{}
	}
	secs, err := st.StartTime()
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(secs*float64(time.Second)))
}
