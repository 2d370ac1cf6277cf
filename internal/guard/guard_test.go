//go:build unix

package guard_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/kpfind/internal/guard"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

func privateDir(t *testing.T, mode os.FileMode) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.Mkdir(dir, 0o700))
	require.NoError(t, os.Chmod(dir, mode)) //nolint:gosec // G302: Test sets explicit modes
	return dir
}

func TestIsCacheSafe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mode os.FileMode
		safe bool
	}{
		{"owner only", 0o700, true},
		{"owner read-exec", 0o500, true},
		{"world readable", 0o704, false},
		{"world readable and executable", 0o755, false},
		{"group readable", 0o740, false},
		{"world traversable only", 0o711, true},
		{"group writable but not readable", 0o720, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := privateDir(t, tt.mode)
			t.Cleanup(func() { _ = os.Chmod(dir, 0o700) }) //nolint:gosec // G302: Restore for TempDir cleanup

			safe, err := guard.IsCacheSafe(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.safe, safe)
		})
	}
}

func TestIsCacheSafe_MissingDirectory(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	safe, err := guard.IsCacheSafe(missing)
	require.Error(t, err)
	require.ErrorIs(t, err, kperr.ErrStat)
	assert.False(t, safe, "an uninspectable directory must never be treated as safe")
	assert.Equal(t, kperr.ExitPermission, kperr.ExitCode(err))
}

func TestIsCacheSafe_NotADirectory(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	safe, err := guard.IsCacheSafe(file)
	require.ErrorIs(t, err, kperr.ErrStat)
	assert.False(t, safe)
}

func TestSocketDir(t *testing.T) {
	t.Parallel()

	dir, err := guard.SocketDir("/run/user/1000/kpfind.sock")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000", dir)

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir, err = guard.SocketDir("kpfind.sock")
	require.NoError(t, err)
	assert.Equal(t, wd, dir)
}
