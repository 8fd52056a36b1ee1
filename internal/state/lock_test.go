package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	first := NewManager(path)
	second := NewManager(path)

	require.NoError(t, first.Lock())
	require.NoError(t, first.Lock(), "relocking the same manager is a no-op")

	err := second.Lock()
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, path+".lock", locked.Path)
	assert.Contains(t, locked.Error(), "pid=")

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestUnlock_WithoutLock(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "state.yaml"))
	assert.NoError(t, mgr.Unlock())
}

func TestCreateLockFile_Stale(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.yaml.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("pid=1\n"), 0o644))

	old := time.Now().Add(-2 * StaleLockAge)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	require.NoError(t, createLockFile(lockPath))
	content, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "pid=")
	assert.NotEqual(t, "pid=1\n", string(content))
}

func TestCreateLockFile_Held(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.yaml.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("pid=1\n"), 0o644))

	err := createLockFile(lockPath)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "pid=1\n", locked.Holder)
	assert.Contains(t, locked.Error(), "pid=1")
}
