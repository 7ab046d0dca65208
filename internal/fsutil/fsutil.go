// Package fsutil holds file helpers shared by the file-facing components.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a file exceeds the read limit.
var ErrTooLarge = errors.New("file too large")

// ReadFileScoped reads name through a root opened at dir, so name cannot
// escape dir through ".." or symlinks. At most limit bytes are accepted;
// limit <= 0 disables the check.
func ReadFileScoped(dir, name string, limit int64) ([]byte, error) {
	base := filepath.Clean(name)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file name: %q", name)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if limit <= 0 {
		return io.ReadAll(file)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, base, limit)
	}
	return data, nil
}
