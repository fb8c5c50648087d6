package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestTryLock_ConflictsAcrossDescriptors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")

	a, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	defer a.Close()
	b, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer b.Close()

	ok, err := TryLock(a)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = TryLock(b)
	require.NoError(t, err)
	assert.False(t, ok, "second descriptor must not get the lock")

	require.NoError(t, Unlock(a))

	ok, err = TryLock(b)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, Unlock(b))
}

func TestSameFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.log")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, SameFile(f, path))

	require.NoError(t, WriteFileAtomic(path, []byte("b\n"), 0644))
	assert.False(t, SameFile(f, path))
}
