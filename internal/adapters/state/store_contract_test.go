package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// storeFactories runs every contract test against both backends.
func storeFactories(t *testing.T) map[string]func() core.KVStore {
	t.Helper()
	return map[string]func() core.KVStore{
		"sqlite": func() core.KVStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"json": func() core.KVStore {
			return NewJSONStore(filepath.Join(t.TempDir(), "state.json"))
		},
	}
}

func TestStore_RoundTripWorkflowState(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			current := core.RowID(150)
			started := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
			want := &core.WorkflowState{
				Version:    core.CurrentStateVersion,
				Active:     true,
				SheetID:    "March",
				Queue:      []core.RowID{151, 152},
				CurrentRow: &current,
				Stats:      core.Stats{Processed: 2, Success: 1, Failed: 1, StartedAt: &started},
			}
			require.NoError(t, store.Set(ctx, "workflow_state", want))

			var got core.WorkflowState
			found, err := store.Get(ctx, "workflow_state", &got)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, want.Queue, got.Queue)
			assert.Equal(t, *want.CurrentRow, *got.CurrentRow)
			assert.True(t, got.Stats.StartedAt.Equal(started))
		})
	}
}

func TestStore_MissingKey(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			var v map[string]string
			found, err := factory().Get(context.Background(), "nope", &v)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_DeleteAndKeys(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			require.NoError(t, store.Set(ctx, "recovery/March/150", 1))
			require.NoError(t, store.Set(ctx, "recovery/March/151", 2))
			require.NoError(t, store.Set(ctx, "recovery_other", 3))
			require.NoError(t, store.Set(ctx, "workflow_state", 4))

			keys, err := store.Keys(ctx, "recovery/")
			require.NoError(t, err)
			assert.Equal(t, []string{"recovery/March/150", "recovery/March/151"}, keys)

			require.NoError(t, store.Delete(ctx, "recovery/March/150"))
			require.NoError(t, store.Delete(ctx, "recovery/March/150"), "deleting twice is fine")

			keys, err = store.Keys(ctx, "recovery/")
			require.NoError(t, err)
			assert.Equal(t, []string{"recovery/March/151"}, keys)
		})
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sqlitePath := filepath.Join(dir, "state.db")
	s1, err := NewSQLiteStore(sqlitePath)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "k", "v"))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(sqlitePath)
	require.NoError(t, err)
	defer s2.Close()
	var got string
	found, err := s2.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)

	jsonPath := filepath.Join(dir, "state.json")
	require.NoError(t, NewJSONStore(jsonPath).Set(ctx, "k", "v"))
	found, err = NewJSONStore(jsonPath).Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)
}
