package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/kpfind/internal/config"
	"github.com/mrz1836/kpfind/internal/daemon"
	"github.com/mrz1836/kpfind/internal/ipc"
	"github.com/mrz1836/kpfind/internal/keepass"
	"github.com/mrz1836/kpfind/internal/output"
	"github.com/mrz1836/kpfind/internal/secure"
	"github.com/mrz1836/kpfind/internal/session"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Tests in this package share the command globals and some bind sockets,
// which changes the process umask, so none of them call t.Parallel.

const testPassword = "correct horse"

type fakeHandle struct{}

func (fakeHandle) Records() ([]keepass.Record, error) {
	return []keepass.Record{
		{
			Path: "Root/Gmail", Title: "Gmail", Username: "alice", Password: "hunter2",
			History: []keepass.Revision{{Title: "Gmail", Username: "alice", Password: "oldpw1"}},
		},
		{Path: "Root/Banking/Bank", Title: "Bank", Username: "carol", Password: "Secret123"},
	}, nil
}

func (fakeHandle) Close() error { return nil }

type fakeEngine struct{ opens atomic.Int32 }

func (e *fakeEngine) Open(req keepass.OpenRequest) (keepass.Handle, error) {
	e.opens.Add(1)
	if req.Password.String() != testPassword {
		return nil, kperr.ErrCredentials
	}
	return fakeHandle{}, nil
}

// env is one test's view of the CLI: a command carrying a CommandContext
// that writes to buffers, with prompt, engine and spawn replaced.
type env struct {
	cmd     *cobra.Command
	out     *bytes.Buffer
	logs    *bytes.Buffer
	cfg     *config.Config
	engine  *fakeEngine
	prompts atomic.Int32
	spawns  atomic.Int32
	db      string
}

func newEnv(t *testing.T, format output.Format, password string) *env {
	t.Helper()

	// Socket paths must stay short, so avoid t.TempDir.
	sockDir, err := os.MkdirTemp("", "kpc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	home := t.TempDir()
	db := filepath.Join(home, "vault.kdbx")
	require.NoError(t, os.WriteFile(db, []byte("kdbx"), 0o600))

	e := &env{
		out:    &bytes.Buffer{},
		logs:   &bytes.Buffer{},
		cfg:    config.Defaults(),
		engine: &fakeEngine{},
		db:     db,
	}
	e.cfg.Home = home
	e.cfg.Cache.Socket = filepath.Join(sockDir, "kp.sock")

	saveGlobals(t)
	newEngine = func() keepass.Engine { return e.engine }
	promptPasswordFn = func(string) (*secure.Bytes, error) {
		e.prompts.Add(1)
		return secure.FromString(password), nil
	}
	spawnDaemonFn = func(_ context.Context, opts daemon.SpawnOptions) error {
		e.spawns.Add(1)
		startDaemon(t, opts.Socket, e.engine)
		return nil
	}

	e.cmd = newTestCommand()
	fmtr := output.NewFormatter(format, e.out)
	SetCmdContext(e.cmd, NewCommandContext(e.cfg, config.NewStreamLogger(config.LogLevelDebug, e.logs), fmtr))
	return e
}

// newTestCommand has the root search flags but none of the global state.
func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	f := cmd.Flags()
	f.StringSliceVar(&patternFlags, "re-flags", nil, "")
	f.IntVarP(&cacheTimeout, "timeout", "t", 0, "")
	return cmd
}

// startDaemon runs an in-process daemon until the test ends.
func startDaemon(t *testing.T, socket string, engine keepass.Engine) {
	t.Helper()

	ln, err := ipc.Listen(socket)
	require.NoError(t, err)

	d := daemon.New(daemon.Options{
		Registry:    session.NewRegistry(session.Options{Engine: engine}),
		Socket:      socket,
		IdleTimeout: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// saveGlobals restores package-level state when the test ends.
func saveGlobals(t *testing.T) {
	t.Helper()

	origCfg, origLogger, origFormatter, origCmdCtx := cfg, logger, formatter, cmdCtx
	origHome, origOutput, origDebug, origSocket := homeDir, outputFormat, debug, socketPath
	origKeyFile, origExact, origFlags := keyFilePath, exactMatch, patternFlags
	origTimeout, origHistory, origReveal := cacheTimeout, includeHistory, revealPasswords
	origForce := configForce
	origEngine, origPrompt, origSpawn := newEngine, promptPasswordFn, spawnDaemonFn

	t.Cleanup(func() {
		cfg, logger, formatter, cmdCtx = origCfg, origLogger, origFormatter, origCmdCtx
		homeDir, outputFormat, debug, socketPath = origHome, origOutput, origDebug, origSocket
		keyFilePath, exactMatch, patternFlags = origKeyFile, origExact, origFlags
		cacheTimeout, includeHistory, revealPasswords = origTimeout, origHistory, origReveal
		configForce = origForce
		newEngine, promptPasswordFn, spawnDaemonFn = origEngine, origPrompt, origSpawn
		secure.SetMemoryLock(true)
	})
}
