package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patleeman/taskfactory/internal/taskerr"
)

func TestRegistryList(t *testing.T) {
	dir := t.TempDir()
	content := `[
  {"id": "ws-1", "name": "Backend", "path": "/code/backend"},
  {"id": "ws-2", "name": "Frontend", "path": "/code/frontend"}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, RegistryFileName), []byte(content), 0o644))

	registry, err := NewRegistry(dir)
	require.NoError(t, err)
	workspaces, err := registry.List()
	require.NoError(t, err)
	require.Len(t, workspaces, 2)
	assert.Equal(t, "ws-1", workspaces[0].ID)
	assert.Equal(t, "Frontend", workspaces[1].Name)
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	registry, err := NewRegistry(t.TempDir())
	require.NoError(t, err)

	workspaces, err := registry.List()
	require.NoError(t, err)
	assert.Nil(t, workspaces)
}

func TestRegistryMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RegistryFileName), []byte("not json"), 0o644))

	registry, err := NewRegistry(dir)
	require.NoError(t, err)
	_, err = registry.List()
	assert.Error(t, err)
}

func TestRegistryGet(t *testing.T) {
	dir := t.TempDir()
	content := `[{"id": "ws-1", "name": "Backend", "path": "/code/backend"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, RegistryFileName), []byte(content), 0o644))

	registry, err := NewRegistry(dir)
	require.NoError(t, err)

	ws, err := registry.Get("ws-1")
	require.NoError(t, err)
	assert.Equal(t, "/code/backend", ws.Path)

	_, err = registry.Get("ghost")
	assert.True(t, taskerr.IsNotFound(err), "unknown id error = %v", err)
}

func TestPathsLayout(t *testing.T) {
	p := NewPaths("/work/repo", "")

	assert.Equal(t, filepath.Join("/work/repo", DefaultAppDir), p.StatePath())
	assert.Equal(t, filepath.Join("/work/repo", DefaultAppDir, "tasks", "T-1", "task.md"), p.TaskFile("T-1"))
	assert.Equal(t, filepath.Join(p.TaskDir("T-1"), "attachments"), p.AttachmentsDir("T-1"))

	custom := NewPaths("/work/repo", ".custom")
	assert.Equal(t, filepath.Join("/work/repo", ".custom", "activity.jsonl"), custom.ActivityFile())
}
