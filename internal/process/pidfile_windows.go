//go:build windows

package process

import "os"

// renameio does not support Windows; a plain write is the best we have.
func writeFileAtomic(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
