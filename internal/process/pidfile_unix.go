//go:build !windows

package process

import "github.com/google/renameio/v2"

func writeFileAtomic(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o600)
}
