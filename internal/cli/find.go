package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/kpfind/internal/daemon"
	"github.com/mrz1836/kpfind/internal/fileutil"
	"github.com/mrz1836/kpfind/internal/finder"
	"github.com/mrz1836/kpfind/internal/ipc"
	"github.com/mrz1836/kpfind/internal/keepass"
	"github.com/mrz1836/kpfind/internal/matcher"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	keyFilePath     string
	exactMatch      bool
	patternFlags    []string
	cacheTimeout    int
	includeHistory  bool
	revealPasswords bool
)

// newEngine and spawnDaemonFn are swapped out in tests.
//
//nolint:gochecknoglobals // Replaced in tests
var (
	newEngine     = func() keepass.Engine { return keepass.NewKDBX() }
	spawnDaemonFn = daemon.Spawn
)

func findArgs(_ *cobra.Command, args []string) error {
	if len(args) != 2 {
		return kperr.WithSuggestion(
			kperr.WithDetails(kperr.ErrInvalidInput, map[string]string{"args": "expected <db> <needle>"}),
			"usage: kpfind [flags] <db> <needle>",
		)
	}
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	q, err := buildQuery(cmd, cc, args[0], args[1])
	if err != nil {
		return err
	}

	socket, err := cc.Cfg.SocketPath()
	if err != nil {
		return kperr.WithCause(kperr.ErrInvalidInput, err)
	}

	f := finder.New(finder.Options{
		Engine:       newEngine(),
		Cache:        newCacheClient(cc, socket, true),
		Prompt:       promptPasswordFn,
		Socket:       socket,
		MatchTimeout: cc.Cfg.MatchTimeout(),
		Logger:       cc.Log,
	})

	res, err := f.Find(cmd.Context(), q)
	if err != nil {
		return err
	}
	cc.Log.Debug("%d entries matched (cached: %t)", len(res.Entries), res.Cached)
	return cc.Fmt.Entries(res.Entries, res.Cached)
}

// buildQuery turns flags and config defaults into a finder query.
func buildQuery(cmd *cobra.Command, cc *CommandContext, db, needle string) (finder.Query, error) {
	mode := matcher.ModePattern
	if exactMatch {
		mode = matcher.ModeExact
	}

	names := cc.Cfg.Search.DefaultFlags
	if cmd.Flags().Changed("re-flags") {
		names = patternFlags
	}
	flags, err := matcher.ParseFlags(names)
	if err != nil {
		return finder.Query{}, err
	}

	ttl := cc.Cfg.DefaultTimeout()
	if cmd.Flags().Changed("timeout") {
		// zero or negative runs the search directly
		ttl = time.Duration(max(cacheTimeout, 0)) * time.Second
	}

	keyFile := keyFilePath
	if keyFile != "" {
		if keyFile, err = fileutil.ExpandHome(keyFile); err != nil {
			return finder.Query{}, kperr.WithCause(kperr.ErrKeyFile, err)
		}
	}
	dbPath, err := fileutil.ExpandHome(db)
	if err != nil {
		return finder.Query{}, kperr.WithCause(kperr.ErrInvalidInput, err)
	}

	return finder.Query{
		Database:       dbPath,
		KeyFile:        keyFile,
		Needle:         needle,
		Mode:           mode,
		Flags:          flags,
		IncludeHistory: includeHistory,
		TTL:            ttl,
	}, nil
}

// newCacheClient builds a daemon client. With spawn set, an unreachable
// daemon is started in the background and dialed again.
func newCacheClient(cc *CommandContext, socket string, spawn bool) *ipc.Client {
	opts := ipc.ClientOptions{
		Socket: socket,
		Retry: ipc.RetryConfig{
			MaxAttempts: cc.Cfg.Cache.DialAttempts,
			BaseDelay:   time.Duration(cc.Cfg.Cache.DialBaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(cc.Cfg.Cache.DialMaxDelayMS) * time.Millisecond,
		},
		Logger: cc.Log,
	}
	if spawn {
		spawnOpts := daemon.SpawnOptions{
			Socket:      socket,
			Home:        cc.Cfg.Home,
			IdleTimeout: cc.Cfg.IdleTimeout(),
			Debug:       debug,
		}
		opts.Spawn = func(ctx context.Context) error {
			cc.Log.Debug("starting cache daemon on %s", socket)
			return spawnDaemonFn(ctx, spawnOpts)
		}
	}
	return ipc.NewClient(opts)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	f := rootCmd.Flags()
	f.StringVarP(&keyFilePath, "key-file", "k", "", "key file protecting the database")
	f.BoolVar(&exactMatch, "no-regex", false, "match the needle as an exact string")
	f.StringSliceVar(&patternFlags, "re-flags", nil, "comma-separated pattern flags I, M, S, X, e.g. --re-flags=I,M; --re-flags=\"\" for case-sensitive (default from config: I)")
	f.IntVarP(&cacheTimeout, "timeout", "t", 0, "cache the unlocked database for this many seconds (0 or less disables)")
	f.BoolVar(&includeHistory, "enable-history", false, "also match previous passwords of each entry")
	f.BoolVar(&revealPasswords, "reveal", false, "print matched passwords instead of masking them")

	_ = rootCmd.RegisterFlagCompletionFunc("key-file", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"key", "keyx"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("re-flags", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"I", "M", "S", "X"}, cobra.ShellCompDirectiveNoFileComp
	})
}
