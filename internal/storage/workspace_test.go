package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_ResolvePath(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	t.Run("resolves relative paths", func(t *testing.T) {
		path, err := sb.ResolvePath("images/scene-1.jpg")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, sb.BaseDir()))
	})

	t.Run("rejects absolute paths", func(t *testing.T) {
		_, err := sb.ResolvePath("/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := sb.ResolvePath("../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("cleans dot segments inside the sandbox", func(t *testing.T) {
		path, err := sb.ResolvePath("images/./scene-1.jpg")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(sb.BaseDir(), "images", "scene-1.jpg"), path)
	})
}

func TestSandbox_ReadWrite(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, sb.WriteFile("audio.mp3", []byte("mp3-bytes")))

	data, err := sb.ReadFile("audio.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), data)

	exists, err := sb.Exists("audio.mp3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sb.Exists("missing.mp3")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSandbox_WriteCreatesParents(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, sb.WriteFile("images/scene-1.jpg", []byte("jpeg")))

	info, err := sb.Stat("images/scene-1.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}

func TestSandbox_AtomicWrite(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, sb.AtomicWrite("captions.srt", []byte("1\n00:00:00,000 --> 00:00:01,200\nhi\n")))

	data, err := sb.ReadFile("captions.srt")
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:00,000")

	// No temp files left behind.
	entries, err := os.ReadDir(sb.BaseDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}

	// Overwrite in place.
	require.NoError(t, sb.AtomicWrite("captions.srt", []byte("replaced")))
	data, err = sb.ReadFile("captions.srt")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)
}

func TestSandbox_RemoveAll(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, sb.WriteFile("images/scene-1.jpg", []byte("jpeg")))
	require.NoError(t, sb.RemoveAll("images"))

	exists, err := sb.Exists("images")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Error(t, sb.RemoveAll("."))
}

func TestWorkspace(t *testing.T) {
	workDir := t.TempDir()

	ws, err := NewWorkspace(workDir, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)

	base := filepath.Base(ws.BaseDir())
	assert.True(t, strings.HasPrefix(base, "render-01ARZ3NDEKTSV4RRFFQ69G5FAV-"), "workspace dir %s", base)

	require.NoError(t, ws.WriteFile("scene-1.jpg", []byte("jpeg")))
	path, err := ws.ResolvePath("scene-1.jpg")
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, ws.Cleanup())
	assert.NoDirExists(t, ws.BaseDir())
}

func TestWorkspace_UniquePerRender(t *testing.T) {
	workDir := t.TempDir()

	a, err := NewWorkspace(workDir, "vid")
	require.NoError(t, err)
	b, err := NewWorkspace(workDir, "vid")
	require.NoError(t, err)

	assert.NotEqual(t, a.BaseDir(), b.BaseDir())
}

func TestSweepOrphans(t *testing.T) {
	workDir := t.TempDir()

	stale := filepath.Join(workDir, "render-old-abc123")
	require.NoError(t, os.MkdirAll(stale, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "scene-1.jpg"), []byte("jpeg"), 0640))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(workDir, "render-new-def456")
	require.NoError(t, os.MkdirAll(fresh, 0750))

	unrelated := filepath.Join(workDir, "keepme")
	require.NoError(t, os.MkdirAll(unrelated, 0750))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	removed, err := SweepOrphans(workDir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated)
}

func TestSweepOrphans_MissingDir(t *testing.T) {
	removed, err := SweepOrphans(filepath.Join(t.TempDir(), "nope"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
