// Package cli implements the kpfind command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrz1836/kpfind/internal/config"
	"github.com/mrz1836/kpfind/internal/fileutil"
	"github.com/mrz1836/kpfind/internal/output"
	"github.com/mrz1836/kpfind/internal/secure"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var (
	// Global flags
	homeDir      string
	outputFormat string
	debug        bool
	socketPath   string

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	cmdCtx    *CommandContext
	buildInfo BuildInfo
)

// rootCmd searches a database when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "kpfind [flags] <db> <needle>",
	Short: "Find KeePass entries by password",
	Long: `kpfind lists the entries of a KeePass database whose password matches a
pattern or an exact string.

The master password is prompted for on every run unless a cache timeout is
given with -t. With -t, the decrypted database is held by a background daemon
for that many seconds, so later searches of the same database do not prompt.
The daemon listens on a socket that is only used when no other user can
read its directory.

Example:
  kpfind vault.kdbx 'hunter\d'
  kpfind --no-regex vault.kdbx 'Secret123'
  kpfind -t 300 --enable-history -k vault.key vault.kdbx '^old'`,
	Args:          findArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// config init must be able to replace a broken file
		if err := initGlobals(cmd.ErrOrStderr(), cmd != configInitCmd); err != nil {
			return err
		}
		SetCmdContext(cmd, cmdCtx)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
	RunE: runFind,
}

// Execute runs the root command and prints any error once.
func Execute(info BuildInfo) error {
	buildInfo = info
	rootCmd.Version = formatVersion(info)
	enrichHelp()

	err := rootCmd.Execute()
	if err != nil {
		formatErr(err)
		return err
	}
	return nil
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	return kperr.ExitCode(err)
}

func formatErr(err error) {
	format := output.FormatText
	if formatter != nil {
		format = formatter.Format()
	}
	_ = output.FormatError(os.Stderr, err, format)
}

func formatVersion(info BuildInfo) string {
	version, commit, date := info.Version, info.Commit, info.Date
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// initGlobals loads configuration and builds the logger and formatter.
// Precedence is defaults, then the config file, then KPFIND_* variables,
// then flags.
// A config file that fails to parse is an error when strict is set and is
// replaced by defaults otherwise.
func initGlobals(logOut io.Writer, strict bool) error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}
	home, err := fileutil.ExpandHome(home)
	if err != nil {
		return kperr.WithCause(kperr.ErrInvalidInput, err)
	}

	cfg, err = config.Load(config.Path(home))
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg = config.Defaults()
	case err != nil && !strict:
		cfg = config.Defaults()
	case err != nil:
		return kperr.WithSuggestion(
			kperr.WithCause(kperr.ErrConfigInvalid, err),
			"fix the file or recreate it with: kpfind config init --force",
		)
	}

	config.ApplyEnvironment(cfg)

	cfg.Home = home
	if debug {
		cfg.Logging.Level = "debug"
	}
	if socketPath != "" {
		cfg.Cache.Socket = socketPath
	}
	if outputFormat != "" && outputFormat != string(output.FormatAuto) {
		cfg.Output.DefaultFormat = outputFormat
	}

	secure.SetMemoryLock(cfg.Security.MemoryLock)

	level := config.ParseLogLevel(cfg.Logging.Level)
	if cfg.Logging.File == "" {
		logger = config.NewStreamLogger(level, logOut)
	} else if logger, err = config.NewLogger(level, cfg.Logging.File); err != nil {
		logger = config.NewStreamLogger(level, logOut)
		logger.Warn("cannot open log file %s: %v", cfg.Logging.File, err)
	}

	explicit := output.ParseFormat(cfg.Output.DefaultFormat)
	formatter = output.NewFormatter(output.DetectFormat(os.Stdout, explicit), os.Stdout)
	formatter.SetReveal(cfg.Output.RevealPasswords || revealPasswords)

	cmdCtx = NewCommandContext(cfg, logger, formatter)
	return nil
}

// cleanup releases resources.
func cleanup() {
	if logger != nil {
		_ = logger.Close()
	}
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&homeDir, "home", "", "kpfind data directory (default: ~/.kpfind)")
	pf.StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	pf.BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	pf.StringVar(&socketPath, "socket", "", "cache daemon socket (default: ./kpfind.sock)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return kperr.WithCause(kperr.ErrInvalidInput, err)
	})
	rootCmd.SetVersionTemplate("kpfind {{.Version}}\n")
}
