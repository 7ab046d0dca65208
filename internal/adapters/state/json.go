package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// JSONStore implements core.KVStore with a single JSON file. Every write
// rewrites the file atomically after copying the previous version to a
// backup, which is used when the primary fails its checksum.
type JSONStore struct {
	path       string
	backupPath string
	mu         sync.Mutex
	entries    map[string]json.RawMessage
	loaded     bool
}

// JSONStoreOption configures the store.
type JSONStoreOption func(*JSONStore)

// WithBackupPath sets the backup file path.
func WithBackupPath(path string) JSONStoreOption {
	return func(s *JSONStore) {
		s.backupPath = path
	}
}

// NewJSONStore creates a store backed by path. The file is read lazily.
func NewJSONStore(path string, opts ...JSONStoreOption) *JSONStore {
	s := &JSONStore{
		path:       path,
		backupPath: path + ".bak",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeEnvelope wraps the entries with integrity metadata.
type storeEnvelope struct {
	Version   int                        `json:"version"`
	Checksum  string                     `json:"checksum"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Entries   map[string]json.RawMessage `json:"entries"`
}

// Get decodes the value at key into dst.
func (s *JSONStore) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	raw, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at key and flushes the file.
func (s *JSONStore) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.entries[key] = data
	return s.flush()
}

// Delete removes key and flushes the file.
func (s *JSONStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.flush()
}

// Keys lists keys starting with prefix, in lexical order.
func (s *JSONStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; every mutation is flushed immediately.
func (s *JSONStore) Close() error {
	return nil
}

// Path returns the primary file path.
func (s *JSONStore) Path() string {
	return s.path
}

// BackupPath returns the backup file path.
func (s *JSONStore) BackupPath() string {
	return s.backupPath
}

func (s *JSONStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	entries, err := readEnvelope(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		// Primary is unreadable or corrupted; fall back to the backup.
		backup, backupErr := readEnvelope(s.backupPath)
		if backupErr != nil {
			return core.ErrState(core.CodeStateCorrupted, "state file and backup are unreadable").WithCause(err)
		}
		entries = backup
	}
	if entries == nil {
		entries = make(map[string]json.RawMessage)
	}

	s.entries = entries
	s.loaded = true
	return nil
}

func readEnvelope(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var env storeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	payload, err := marshalEntries(env.Entries)
	if err != nil {
		return nil, err
	}
	if env.Checksum != checksumOf(payload) {
		return nil, fmt.Errorf("checksum mismatch in %s", path)
	}
	return env.Entries, nil
}

func (s *JSONStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	if current, err := os.ReadFile(s.path); err == nil {
		if err := atomicWriteFile(s.backupPath, current, 0o600); err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
	}

	payload, err := marshalEntries(s.entries)
	if err != nil {
		return err
	}
	env := storeEnvelope{
		Version:   1,
		Checksum:  checksumOf(payload),
		UpdatedAt: time.Now().UTC(),
		Entries:   s.entries,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := atomicWriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// marshalEntries produces the canonical encoding the checksum covers.
// encoding/json sorts map keys; values are compacted so indentation of
// the envelope does not change the digest.
func marshalEntries(entries map[string]json.RawMessage) ([]byte, error) {
	compacted := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("compacting %s: %w", k, err)
		}
		compacted[k] = buf.Bytes()
	}
	data, err := json.Marshal(compacted)
	if err != nil {
		return nil, fmt.Errorf("marshaling entries: %w", err)
	}
	return data, nil
}
