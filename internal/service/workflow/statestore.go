// Package workflow drives rows through the locate, extract, verify and
// advance pipeline. All progress lives in the durable key/value store so a
// restarted process re-derives where it left off from storage alone.
package workflow

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// Durable store keys.
const (
	KeyWorkflowState = "workflow_state"
	KeySearchContext = "current_search"
	KeyHistory       = "extraction_history"
	KeyWriteLogs     = "write_logs"
	recoveryPrefix   = "recovery/"
)

// StateStore is the typed repository over the durable key/value store.
type StateStore struct {
	kv core.KVStore
}

// NewStateStore wraps a key/value store.
func NewStateStore(kv core.KVStore) *StateStore {
	return &StateStore{kv: kv}
}

// KV returns the underlying key/value store.
func (s *StateStore) KV() core.KVStore {
	return s.kv
}

// LoadState returns the persisted workflow state, or a fresh inactive state
// when none was ever saved.
func (s *StateStore) LoadState(ctx context.Context) (*core.WorkflowState, error) {
	state := core.NewWorkflowState()
	found, err := s.kv.Get(ctx, KeyWorkflowState, state)
	if err != nil {
		return nil, fmt.Errorf("loading workflow state: %w", err)
	}
	if !found {
		return core.NewWorkflowState(), nil
	}

	switch {
	case state.Version == 0:
		state.Version = core.CurrentStateVersion
	case state.Version > core.CurrentStateVersion:
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("workflow state version %d is newer than supported version %d", state.Version, core.CurrentStateVersion))
	}
	if state.Queue == nil {
		state.Queue = []core.RowID{}
	}
	return state, nil
}

// SaveState persists the workflow state.
func (s *StateStore) SaveState(ctx context.Context, state *core.WorkflowState) error {
	if state == nil {
		return core.ErrState(core.CodeInvalidState, "nil workflow state")
	}
	state.Version = core.CurrentStateVersion
	if err := s.kv.Set(ctx, KeyWorkflowState, state); err != nil {
		return fmt.Errorf("saving workflow state: %w", err)
	}
	return nil
}

// LoadSearch returns the in-flight search context or nil.
func (s *StateStore) LoadSearch(ctx context.Context) (*core.SearchContext, error) {
	var search core.SearchContext
	found, err := s.kv.Get(ctx, KeySearchContext, &search)
	if err != nil {
		return nil, fmt.Errorf("loading search context: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &search, nil
}

// SaveSearch persists the in-flight search context.
func (s *StateStore) SaveSearch(ctx context.Context, search *core.SearchContext) error {
	if err := s.kv.Set(ctx, KeySearchContext, search); err != nil {
		return fmt.Errorf("saving search context: %w", err)
	}
	return nil
}

// DeleteSearch removes the in-flight search context.
func (s *StateStore) DeleteSearch(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeySearchContext); err != nil {
		return fmt.Errorf("deleting search context: %w", err)
	}
	return nil
}

// AppendHistory records a finished row, keeping the newest entries only.
func (s *StateStore) AppendHistory(ctx context.Context, entry core.HistoryEntry) error {
	history, err := s.History(ctx)
	if err != nil {
		return err
	}
	history = append(history, entry)
	if len(history) > core.MaxHistoryEntries {
		history = history[len(history)-core.MaxHistoryEntries:]
	}
	return s.kv.Set(ctx, KeyHistory, history)
}

// History returns finished rows, oldest first.
func (s *StateStore) History(ctx context.Context) ([]core.HistoryEntry, error) {
	var history []core.HistoryEntry
	if _, err := s.kv.Get(ctx, KeyHistory, &history); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return history, nil
}

// AppendWriteLog records a write attempt summary, keeping the newest entries only.
func (s *StateStore) AppendWriteLog(ctx context.Context, entry core.WriteLogEntry) error {
	logs, err := s.WriteLogs(ctx)
	if err != nil {
		return err
	}
	logs = append(logs, entry)
	if len(logs) > core.MaxWriteLogEntries {
		logs = logs[len(logs)-core.MaxWriteLogEntries:]
	}
	return s.kv.Set(ctx, KeyWriteLogs, logs)
}

// WriteLogs returns write summaries, oldest first.
func (s *StateStore) WriteLogs(ctx context.Context) ([]core.WriteLogEntry, error) {
	var logs []core.WriteLogEntry
	if _, err := s.kv.Get(ctx, KeyWriteLogs, &logs); err != nil {
		return nil, fmt.Errorf("loading write logs: %w", err)
	}
	return logs, nil
}
