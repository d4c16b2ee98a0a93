package library

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock := NewLock(dir, false)
	require.NoError(t, lock.Acquire())

	data, err := os.ReadFile(filepath.Join(dir, ".library.lock"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	require.NoError(t, lock.Release())

	_, err = os.Stat(filepath.Join(dir, ".library.lock"))
	assert.True(t, os.IsNotExist(err))
}

func TestLock_ReleaseWithoutAcquire(t *testing.T) {
	dir := t.TempDir()

	lock := NewLock(dir, false)
	err := lock.Release()

	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrNoLock)
}

func TestLock_ForeignLiveLock_RefusesWithoutForce(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".library.lock"), []byte("1\n"), 0o644))

	lock := NewLock(dir, false)
	err := lock.Acquire()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by PID")
}

func TestLock_ForeignLiveLock_ForceOverrides(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".library.lock"), []byte("1\n"), 0o644))

	lock := NewLock(dir, true)
	require.NoError(t, lock.Acquire())

	data, err := os.ReadFile(filepath.Join(dir, ".library.lock"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))
}

func TestLock_StaleDeadPID_Overridden(t *testing.T) {
	dir := t.TempDir()

	// PID 999999 is assumed not to be a live process in the test environment.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".library.lock"), []byte("999999\n"), 0o644))

	lock := NewLock(dir, false)
	require.NoError(t, lock.Acquire())
}
