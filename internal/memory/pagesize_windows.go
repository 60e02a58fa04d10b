//go:build windows

package memory

import "os"

func systemPageKB() uint64 { return uint64(os.Getpagesize()) / 1024 }
