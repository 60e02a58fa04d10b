//go:build linux

package process

import "github.com/prometheus/procfs"

// isZombie reports a defunct process. An orphaned runtime is adopted by
// pid 1, which inside containers may never reap it.
func isZombie(pid int) bool {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return false
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return false
	}
	st, err := p.Stat()
	if err != nil {
		return false
	}
	return st.State == "Z" || st.State == "X"
}
