//go:build !windows

package memory

import (
	"os"

	sysconf "github.com/tklauser/go-sysconf"
)

func systemPageKB() uint64 {
	if n, err := sysconf.Sysconf(sysconf.SC_PAGESIZE); err == nil && n > 0 {
		return uint64(n) / 1024
	}
	return uint64(os.Getpagesize()) / 1024
}
