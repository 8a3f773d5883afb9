package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fsys FileSystem, name string, data []byte) {
	t.Helper()
	w, err := fsys.Create(name)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "reports", "lobby")

	assert.False(t, fsys.Exists(dir))
	require.NoError(t, fsys.MkdirAll(dir, 0o755))
	assert.True(t, fsys.Exists(dir))

	name := filepath.Join(dir, "s1-occupancy.png")
	writeFile(t, fsys, name, []byte("png"))
	got, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}

func TestMemoryFileSystem_CreateNeedsDirectory(t *testing.T) {
	m := NewMemoryFileSystem()

	_, err := m.Create("reports/a.png")
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	require.NoError(t, m.MkdirAll("reports", 0o755))
	writeFile(t, m, "reports/a.png", []byte{1, 2, 3})
	assert.True(t, m.Exists("reports/a.png"))
	assert.Equal(t, []string{"reports/a.png"}, m.Files())
}

func TestMemoryFileSystem_TopLevelFiles(t *testing.T) {
	m := NewMemoryFileSystem()
	writeFile(t, m, "a.png", []byte("x"))
	writeFile(t, m, "/tmp-free.png", []byte("y"))
	assert.Equal(t, []string{"/tmp-free.png", "a.png"}, m.Files())
}

func TestMemoryFileSystem_ContentVisibleOnClose(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("a.png")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	got, err := m.ReadFile("a.png")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, w.Close())
	got, err = m.ReadFile("a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("partial"), got)
}

func TestMemoryFileSystem_ReadFileReturnsCopy(t *testing.T) {
	m := NewMemoryFileSystem()
	writeFile(t, m, "a.png", []byte("abc"))

	got, err := m.ReadFile("a.png")
	require.NoError(t, err)
	got[0] = 'z'

	again, err := m.ReadFile("a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("out/./nested/", 0o755))
	assert.True(t, m.Exists("out"))
	assert.True(t, m.Exists("out/nested"))

	writeFile(t, m, "out/nested/../b.png", []byte("b"))
	assert.True(t, m.Exists("out/b.png"))
}

func TestMemoryFileSystem_Conflicts(t *testing.T) {
	m := NewMemoryFileSystem()
	writeFile(t, m, "a.png", nil)

	err := m.MkdirAll("a.png/inner", 0o755)
	assert.True(t, errors.Is(err, fs.ErrExist), "got %v", err)

	require.NoError(t, m.MkdirAll("dir", 0o755))
	_, err = m.Create("dir")
	assert.True(t, errors.Is(err, fs.ErrExist), "got %v", err)

	_, err = m.ReadFile("missing.png")
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
}
