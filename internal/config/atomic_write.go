package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrConfigExists is returned by WriteDefault when the file is present and
// overwriting was not requested.
var ErrConfigExists = errors.New("config file already exists")

// AtomicWrite replaces path with data without exposing a partial file.
// An existing file keeps its permissions.
func AtomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return renameio.WriteFile(path, data, perm)
}

// WriteDefault writes DefaultConfigYAML to path.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking config: %w", err)
		}
	}
	if err := AtomicWrite(path, []byte(DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// DefaultPath is the project config file.
func DefaultPath() string {
	return filepath.Join(ProjectDir, "config.yaml")
}

// Fingerprint returns a short content hash, logged at startup so runs can
// be matched to the configuration they used.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:12]
}
