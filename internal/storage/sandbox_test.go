package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()

	sandbox, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	return sandbox
}

func TestNewSandbox_CreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "store")

	sandbox, err := NewSandbox(base)
	require.NoError(t, err)

	info, err := os.Stat(sandbox.BaseDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSandbox_ResolvePath(t *testing.T) {
	sandbox := newTestSandbox(t)

	t.Run("valid relative path", func(t *testing.T) {
		path, err := sandbox.ResolvePath("songs/abc/source.mp3")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(path))
	})

	t.Run("rejects absolute path", func(t *testing.T) {
		_, err := sandbox.ResolvePath("/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := sandbox.ResolvePath("../escape")
		assert.Error(t, err)
	})

	t.Run("cleans inner traversal", func(t *testing.T) {
		path, err := sandbox.ResolvePath("songs/../clips/a.mp4")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(sandbox.BaseDir(), "clips", "a.mp4"), path)
	})
}

func TestSandbox_WriteReadRoundTrip(t *testing.T) {
	sandbox := newTestSandbox(t)

	err := sandbox.WriteFile("songs/abc/source.mp3", []byte("audio bytes"))
	require.NoError(t, err)

	data, err := sandbox.ReadFile("songs/abc/source.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio bytes"), data)

	exists, err := sandbox.Exists("songs/abc/source.mp3")
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := sandbox.Size("songs/abc/source.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(len("audio bytes")), size)
}

func TestSandbox_AtomicWriteReader(t *testing.T) {
	sandbox := newTestSandbox(t)

	written, err := sandbox.AtomicWriteReader("clips/a.mp4", bytes.NewReader([]byte("clip")))
	require.NoError(t, err)
	assert.Equal(t, int64(4), written)

	data, err := sandbox.ReadFile("clips/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("clip"), data)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(sandbox.BaseDir(), "clips"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSandbox_AtomicPublish(t *testing.T) {
	sandbox := newTestSandbox(t)

	src := filepath.Join(t.TempDir(), "work.mp4")
	require.NoError(t, os.WriteFile(src, []byte("composed"), 0640))

	err := sandbox.AtomicPublish(src, "composed/out.mp4")
	require.NoError(t, err)

	data, err := sandbox.ReadFile("composed/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("composed"), data)
}

func TestSandbox_RemoveAll(t *testing.T) {
	sandbox := newTestSandbox(t)

	require.NoError(t, sandbox.WriteFile("songs/abc/source.mp3", []byte("a")))
	require.NoError(t, sandbox.WriteFile("songs/abc/character/reference.jpg", []byte("b")))

	err := sandbox.RemoveAll("songs/abc")
	require.NoError(t, err)

	exists, err := sandbox.Exists("songs/abc")
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("refuses base directory", func(t *testing.T) {
		assert.Error(t, sandbox.RemoveAll("."))
	})
}

func TestSandbox_Walk(t *testing.T) {
	sandbox := newTestSandbox(t)

	require.NoError(t, sandbox.WriteFile("clips/a.mp4", []byte("a")))
	require.NoError(t, sandbox.WriteFile("clips/b.mp4", []byte("b")))

	var files []string
	err := sandbox.Walk("clips", func(relPath string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if !info.IsDir() {
			files = append(files, relPath)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
