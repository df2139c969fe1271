package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeScript(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "action.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o600))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

// ownerGuard trusts whoever owns path.
func ownerGuard(t *testing.T, path string) Guard {
	t.Helper()
	var st unix.Stat_t
	require.NoError(t, unix.Stat(path, &st))
	return Guard{UID: st.Uid, GID: st.Gid}
}

func assertRejected(t *testing.T, err error, want error) {
	t.Helper()
	require.Error(t, err)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr), "got %T", err)
	assert.ErrorIs(t, err, want)
}

func TestValidateAcceptsOwnedExecutable(t *testing.T) {
	path := writeScript(t, 0o755)
	assert.NoError(t, ownerGuard(t, path).Validate(path))
}

func TestValidateMinimumMode(t *testing.T) {
	path := writeScript(t, 0o500)
	assert.NoError(t, ownerGuard(t, path).Validate(path))
}

func TestValidateNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sh")
	assertRejected(t, Guard{}.Validate(path), ErrNotFound)
}

func TestValidateDirectory(t *testing.T) {
	dir := t.TempDir()
	assertRejected(t, ownerGuard(t, dir).Validate(dir), ErrIsDirectory)
}

func TestValidateNotOwned(t *testing.T) {
	path := writeScript(t, 0o777)
	guard := ownerGuard(t, path)
	guard.UID++

	err := guard.Validate(path)
	assertRejected(t, err, ErrNotOwned)
	assert.Contains(t, err.Error(), path)

	guard = ownerGuard(t, path)
	guard.GID++
	assertRejected(t, guard.Validate(path), ErrNotOwned)
}

func TestValidateNotExecutable(t *testing.T) {
	for _, mode := range []os.FileMode{0o600, 0o400, 0o100, 0o077} {
		path := writeScript(t, mode)
		assertRejected(t, ownerGuard(t, path).Validate(path), ErrNotExecutable)
	}
}

func TestValidateFollowsModeChanges(t *testing.T) {
	path := writeScript(t, 0o755)
	guard := ownerGuard(t, path)

	require.NoError(t, guard.Validate(path))
	require.NoError(t, guard.Validate(path), "validation must be repeatable")

	require.NoError(t, os.Chmod(path, 0o644))
	assertRejected(t, guard.Validate(path), ErrNotExecutable)

	require.NoError(t, os.Chmod(path, 0o700))
	assert.NoError(t, guard.Validate(path))
}

func TestValidateChecksInOrder(t *testing.T) {
	// A directory owned by someone else is reported as a directory.
	dir := t.TempDir()
	guard := ownerGuard(t, dir)
	guard.UID++
	assertRejected(t, guard.Validate(dir), ErrIsDirectory)

	// A non-executable file owned by someone else is reported as not owned.
	path := writeScript(t, 0o600)
	guard = ownerGuard(t, path)
	guard.UID++
	assertRejected(t, guard.Validate(path), ErrNotOwned)
}
