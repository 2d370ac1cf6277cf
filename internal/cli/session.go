package cli

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/kpfind/internal/fileutil"
	"github.com/mrz1836/kpfind/internal/keepass"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// sessionRequestTimeout bounds status and lock round trips.
const sessionRequestTimeout = 10 * time.Second

// sessionCmd is the parent command for session cache operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the session cache",
	Long: `Inspect or clear the databases held unlocked by the cache daemon.

Neither command starts a daemon. When none is running, nothing is cached.`,
}

// sessionStatusCmd shows cached databases.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var sessionStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show cached databases and their remaining time",
	Example: `  kpfind session status`,
	Args:    cobra.NoArgs,
	RunE:    runSessionStatus,
}

// sessionLockCmd ends one or all cached sessions.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var sessionLockCmd = &cobra.Command{
	Use:   "lock [db]",
	Short: "Forget a cached database, or all of them",
	Long: `Destroy the decrypted copy of a database held by the cache daemon.
Without an argument every cached database is forgotten.

Use this when stepping away from your computer.`,
	Example: `  kpfind session lock
  kpfind session lock vault.kdbx`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionLock,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionLockCmd)
}

func runSessionStatus(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	socket, err := cc.Cfg.SocketPath()
	if err != nil {
		return kperr.WithCause(kperr.ErrInvalidInput, err)
	}

	ctx, cancel := contextWithTimeout(cmd, sessionRequestTimeout)
	defer cancel()

	st, err := newCacheClient(cc, socket, false).Status(ctx)
	if kperr.Is(err, kperr.ErrIPCUnavailable) {
		return notRunning(cc, socket)
	}
	if err != nil {
		return err
	}
	return cc.Fmt.Status(st, time.Now())
}

func runSessionLock(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	socket, err := cc.Cfg.SocketPath()
	if err != nil {
		return kperr.WithCause(kperr.ErrInvalidInput, err)
	}

	var database string
	if len(args) == 1 {
		if database, err = lockTarget(args[0]); err != nil {
			return err
		}
	}

	ctx, cancel := contextWithTimeout(cmd, sessionRequestTimeout)
	defer cancel()

	n, err := newCacheClient(cc, socket, false).Lock(ctx, database)
	if kperr.Is(err, kperr.ErrIPCUnavailable) {
		return notRunning(cc, socket)
	}
	if err != nil {
		return err
	}
	return cc.Fmt.Locked(n, database)
}

// lockTarget names a database the way the daemon keys it. A database file
// removed since it was cached can still be locked by its absolute path.
func lockTarget(db string) (string, error) {
	path, err := fileutil.ExpandHome(db)
	if err != nil {
		return "", kperr.WithCause(kperr.ErrInvalidInput, err)
	}
	if identity, err := keepass.Identity(path); err == nil {
		return identity, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", kperr.WithCause(kperr.ErrInvalidInput, err)
	}
	return abs, nil
}

func notRunning(cc *CommandContext, socket string) error {
	if cc.Fmt.IsJSON() {
		return cc.Fmt.Print(map[string]any{"running": false, "socket": socket})
	}
	return cc.Fmt.Printf("no cache daemon running on %s\n", socket)
}
