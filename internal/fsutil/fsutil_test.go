package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileScoped_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.txt"), []byte("12\n13"), 0o600))

	data, err := ReadFileScoped(dir, "rows.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "12\n13", string(data))
}

func TestReadFileScoped_InvalidName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"", ".", string(filepath.Separator)} {
		_, err := ReadFileScoped(dir, name, 0)
		assert.Error(t, err, "name %q", name)
	}
}

func TestReadFileScoped_Missing(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadFileScoped(dir, "nope.txt", 0)
	assert.Error(t, err)

	_, err = ReadFileScoped(filepath.Join(dir, "nodir"), "rows.txt", 0)
	assert.Error(t, err)
}

func TestReadFileScoped_RejectsEscape(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "inbox")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0o600))

	_, err := ReadFileScoped(dir, "../secret.txt", 0)
	assert.Error(t, err)
}

func TestReadFileScoped_Limit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 2048), 0o600))

	_, err := ReadFileScoped(dir, "big.txt", 1024)
	assert.ErrorIs(t, err, ErrTooLarge)

	data, err := ReadFileScoped(dir, "big.txt", 2048)
	require.NoError(t, err)
	assert.Len(t, data, 2048)
}

func TestReadFileScoped_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))

	_, err := ReadFileScoped(dir, "sub", 0)
	assert.Error(t, err)
}
