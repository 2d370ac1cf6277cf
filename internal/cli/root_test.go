package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/kpfind/internal/config"
	"github.com/mrz1836/kpfind/internal/output"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name string
		info BuildInfo
		want string
	}{
		{"all fields", BuildInfo{Version: "v1.2.3", Commit: "abc1234", Date: "2026-01-15"}, "v1.2.3 (commit: abc1234, built: 2026-01-15)"},
		{"empty", BuildInfo{}, "dev (commit: unknown, built: unknown)"},
		{"only version empty", BuildInfo{Commit: "def5678", Date: "2026-02-20"}, "dev (commit: def5678, built: 2026-02-20)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatVersion(tc.info))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, kperr.ExitAuth, ExitCode(kperr.ErrCredentials))
	assert.Equal(t, kperr.ExitPermission, ExitCode(kperr.ErrStat))
	assert.Equal(t, kperr.ExitUnavailable, ExitCode(kperr.ErrIPCUnavailable))
	assert.Equal(t, kperr.ExitInput, ExitCode(kperr.ErrInvalidFlag))
}

func TestInitGlobals_Defaults(t *testing.T) {
	saveGlobals(t)
	homeDir = t.TempDir()

	require.NoError(t, initGlobals(os.Stderr, true))
	assert.Equal(t, homeDir, cfg.Home)
	assert.Equal(t, config.DefaultSocket, cfg.Cache.Socket)
	assert.NotNil(t, logger)
	assert.NotNil(t, cmdCtx)
	assert.False(t, formatter.Reveal())
}

func TestInitGlobals_Precedence(t *testing.T) {
	saveGlobals(t)
	homeDir = t.TempDir()

	file := config.Defaults()
	file.Cache.Socket = "from-file.sock"
	file.Output.DefaultFormat = "text"
	require.NoError(t, config.Save(file, config.Path(homeDir)))

	t.Setenv(config.EnvSocket, "from-env.sock")
	t.Setenv(config.EnvReveal, "")
	require.NoError(t, initGlobals(os.Stderr, true))
	assert.Equal(t, "from-env.sock", cfg.Cache.Socket)
	assert.Equal(t, output.FormatText, formatter.Format())

	socketPath = "from-flag.sock"
	outputFormat = "json"
	debug = true
	revealPasswords = true
	require.NoError(t, initGlobals(os.Stderr, true))
	assert.Equal(t, "from-flag.sock", cfg.Cache.Socket)
	assert.Equal(t, output.FormatJSON, formatter.Format())
	assert.Equal(t, config.LogLevelDebug, logger.Level())
	assert.True(t, formatter.Reveal())
}

func TestInitGlobals_EnvHome(t *testing.T) {
	saveGlobals(t)
	homeDir = ""
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)

	require.NoError(t, initGlobals(os.Stderr, true))
	assert.Equal(t, home, cfg.Home)
}

func TestInitGlobals_BrokenConfig(t *testing.T) {
	saveGlobals(t)
	homeDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, "config.yaml"), []byte("cache: [unclosed"), 0o600))

	err := initGlobals(os.Stderr, true)
	require.ErrorIs(t, err, kperr.ErrConfigInvalid)

	require.NoError(t, initGlobals(os.Stderr, false))
	assert.Equal(t, config.DefaultSocket, cfg.Cache.Socket)
}

func TestCmdContext(t *testing.T) {
	cmd := &cobra.Command{}
	assert.Nil(t, GetCmdContext(cmd))

	cmd.SetContext(context.Background())
	assert.Nil(t, GetCmdContext(cmd))

	cc := NewCommandContext(config.Defaults(), config.NullLogger(), output.NewFormatter(output.FormatText, nil))
	SetCmdContext(cmd, cc)
	assert.Same(t, cc, GetCmdContext(cmd))
}

func TestCleanup(t *testing.T) {
	saveGlobals(t)

	logger = nil
	assert.NotPanics(t, cleanup)

	logger = config.NullLogger()
	assert.NotPanics(t, cleanup)
}

func TestExecute_Version(t *testing.T) {
	saveGlobals(t)
	t.Setenv(config.EnvHome, t.TempDir())
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, Execute(BuildInfo{Version: "v1.0.0-test", Commit: "abc", Date: "2026-01-01"}))
	assert.Equal(t, "v1.0.0-test (commit: abc, built: 2026-01-01)", rootCmd.Version)
}

func TestExecute_UsageError(t *testing.T) {
	saveGlobals(t)
	t.Setenv(config.EnvHome, t.TempDir())
	rootCmd.SetArgs([]string{"only-one-arg"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute(BuildInfo{})
	require.ErrorIs(t, err, kperr.ErrInvalidInput)
	assert.Equal(t, kperr.ExitInput, ExitCode(err))
}

func TestEnrichParentLong(t *testing.T) {
	parent := &cobra.Command{Use: "parent", Long: "Parent."}
	parent.AddCommand(&cobra.Command{Use: "child", Short: "does things", Run: func(*cobra.Command, []string) {}})

	enrichParentLong(parent)
	assert.Contains(t, parent.Long, "Subcommands:")
	assert.Contains(t, parent.Long, "child")
	assert.Contains(t, parent.Long, "does things")
}

func TestCompletion(t *testing.T) {
	got, directive := completeDatabase(rootCmd, nil, "")
	assert.Equal(t, []string{"kdbx"}, got)
	assert.Equal(t, cobra.ShellCompDirectiveFilterFileExt, directive)

	_, directive = completeDatabase(rootCmd, []string{"vault.kdbx"}, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}
