package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// Backend names accepted by NewStore.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// StoreOptions configures store creation.
type StoreOptions struct {
	// Backend selects the implementation; empty means sqlite.
	Backend string

	// BackupPath overrides the JSON backend's backup file.
	BackupPath string
}

// NewStore creates the durable key/value store at path.
func NewStore(path string, opts StoreOptions) (core.KVStore, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", BackendSQLite:
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteStore(path)
	case BackendJSON:
		if !strings.HasSuffix(path, ".json") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		}
		var jsonOpts []JSONStoreOption
		if strings.TrimSpace(opts.BackupPath) != "" {
			jsonOpts = append(jsonOpts, WithBackupPath(opts.BackupPath))
		}
		return NewJSONStore(path, jsonOpts...), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown state backend %q", opts.Backend))
	}
}
