package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_kv_store.sql
var migrationV1 string

// SQLiteStore implements core.KVStore on a single SQLite table.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
	now    func() time.Time
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteClock overrides the clock used for updated_at stamps.
func WithSQLiteClock(now func() time.Time) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath: dbPath,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL lets the status command read while a runner writes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}

	return nil
}

// Get decodes the value at key into dst.
func (s *SQLiteStore) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value, checksum string
	err := s.db.QueryRowContext(ctx,
		"SELECT value, checksum FROM kv_entries WHERE key = ?", key,
	).Scan(&value, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}

	if checksumOf([]byte(value)) != checksum {
		return false, core.ErrState(core.CodeStateCorrupted, fmt.Sprintf("checksum mismatch for key %s", key))
	}

	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value and upserts it at key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`, key, string(data), checksumOf(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix, in lexical order.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func checksumOf(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
