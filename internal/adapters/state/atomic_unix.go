//go:build !windows

package state

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile writes data to a sibling temp file and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
