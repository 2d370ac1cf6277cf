package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/kpfind/internal/config"
	"github.com/mrz1836/kpfind/internal/daemon"
	"github.com/mrz1836/kpfind/internal/ipc"
	"github.com/mrz1836/kpfind/internal/metrics"
	"github.com/mrz1836/kpfind/internal/session"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// daemonCmd runs the session cache daemon in the foreground. Searches with
// -t start it on demand.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the session cache daemon",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemon,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var daemonIdleSeconds int

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().IntVar(&daemonIdleSeconds, "idle-timeout", 0, "exit after this many idle seconds with nothing cached (default from config)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)

	socket, err := cc.Cfg.SocketPath()
	if err != nil {
		return kperr.WithCause(kperr.ErrInvalidInput, err)
	}

	idle := cc.Cfg.IdleTimeout()
	if daemonIdleSeconds > 0 {
		idle = time.Duration(daemonIdleSeconds) * time.Second
	}

	log := daemonLogger(cc.Cfg)
	defer func() { _ = log.Close() }()

	ln, err := ipc.Listen(socket)
	if errors.Is(err, ipc.ErrAddressInUse) {
		log.Debug("another daemon owns %s, exiting", socket)
		return nil
	}
	if err != nil {
		log.Error("listen on %s: %v", socket, err)
		return err
	}
	defer func() { _ = ln.Close() }()

	registry := session.NewRegistry(session.Options{
		Engine:          newEngine(),
		MaxTTL:          cc.Cfg.MaxTTL(),
		UnlockPerMinute: cc.Cfg.Security.UnlockPerMinute,
		UnlockBurst:     cc.Cfg.Security.UnlockBurst,
		Logger:          log,
	})

	d := daemon.New(daemon.Options{
		Registry:     registry,
		Socket:       socket,
		IdleTimeout:  idle,
		MatchTimeout: cc.Cfg.MatchTimeout(),
		Metrics:      &metrics.Metrics{},
		Logger:       log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("daemon %d listening on %s (idle timeout %s)", os.Getpid(), socket, idle)
	err = d.Serve(ctx, ln)
	log.Info("daemon %d stopped", os.Getpid())
	return err
}

// daemonLogger writes to logging.daemon_file. A spawned daemon has no
// terminal, so an unusable file means no logs at all.
func daemonLogger(c *config.Config) *config.Logger {
	level := config.ParseLogLevel(c.Logging.Level)
	if c.Logging.DaemonFile == "" {
		return config.NewStreamLogger(level, os.Stderr)
	}
	log, err := config.NewLogger(level, c.Logging.DaemonFile)
	if err != nil {
		return config.NullLogger()
	}
	return log
}
