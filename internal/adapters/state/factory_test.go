package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_Backends(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(filepath.Join(dir, "state"), StoreOptions{})
	require.NoError(t, err)
	sqlite, ok := s.(*SQLiteStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "state.db"), sqlite.Path())
	require.NoError(t, s.Close())

	s, err = NewStore(filepath.Join(dir, "state.db"), StoreOptions{Backend: "JSON"})
	require.NoError(t, err)
	jsonStore, ok := s.(*JSONStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "state.json"), jsonStore.Path())

	_, err = NewStore(filepath.Join(dir, "state"), StoreOptions{Backend: "redis"})
	require.Error(t, err)
}
